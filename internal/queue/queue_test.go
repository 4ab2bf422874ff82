package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redismock/v9"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/receipt-pipeline/internal/processing"
)

// stubResults records status seeding without real persistence.
type stubResults struct {
	statuses map[string]processing.Status
	err      error
}

func newStubResults() *stubResults {
	return &stubResults{statuses: make(map[string]processing.Status)}
}

func (s *stubResults) Upsert(*processing.Result) error { return nil }

func (s *stubResults) SetStatus(taskID string, status processing.Status, detail string) error {
	if s.err != nil {
		return s.err
	}
	s.statuses[taskID] = status
	return nil
}

func (s *stubResults) GetByTaskID(string) (*processing.Result, error) {
	return nil, processing.ErrNotFound
}

func (s *stubResults) Close() error { return nil }

var _ = Describe("RedisQueue", func() {
	const (
		queueName      = "receipt:tasks"
		processingList = "receipt:tasks:processing"
	)

	var (
		mock    redismock.ClientMock
		results *stubResults
		q       *RedisQueue
		ctx     context.Context
	)

	mustMarshal := func(task Task) string {
		payload, err := json.Marshal(task)
		Expect(err).NotTo(HaveOccurred())
		return string(payload)
	}

	BeforeEach(func() {
		db, m := redismock.NewClientMock()
		mock = m
		results = newStubResults()
		q = NewRedisQueue(db, queueName, results)
		ctx = context.Background()
	})

	AfterEach(func() {
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	Describe("Enqueue", func() {
		It("pushes the payload and seeds a pending record", func() {
			task := Task{TaskID: "task-1", SourceKey: "uploads/r.png", GenerateSummary: true}
			mock.ExpectLPush(queueName, []byte(mustMarshal(task))).SetVal(1)

			id, err := q.Enqueue(ctx, task)
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(Equal("task-1"))
			Expect(results.statuses).To(HaveKeyWithValue("task-1", processing.StatusPending))
		})

		It("generates a task ID when the caller omits one", func() {
			mock.Regexp().ExpectLPush(queueName, `\{"task_id":"[0-9a-f\-]{36}","source_key":"uploads/r\.png","generate_summary":false\}`).SetVal(1)

			id, err := q.Enqueue(ctx, Task{SourceKey: "uploads/r.png"})
			Expect(err).NotTo(HaveOccurred())
			Expect(id).NotTo(BeEmpty())
			Expect(results.statuses).To(HaveKeyWithValue(id, processing.StatusPending))
		})

		It("rejects a task without a source key", func() {
			_, err := q.Enqueue(ctx, Task{TaskID: "task-1"})
			Expect(err).To(MatchError(ContainSubstring("source key")))
			Expect(results.statuses).To(BeEmpty())
		})

		It("does not push when the pending record cannot be seeded", func() {
			results.err = errors.New("store closed")

			_, err := q.Enqueue(ctx, Task{TaskID: "task-1", SourceKey: "uploads/r.png"})
			Expect(err).To(MatchError(ContainSubstring("seeding pending record")))
		})
	})

	Describe("Dequeue", func() {
		It("parks the payload on the processing list and returns the task", func() {
			task := Task{TaskID: "task-1", SourceKey: "uploads/r.png"}
			payload := mustMarshal(task)
			mock.ExpectBLMove(queueName, processingList, "RIGHT", "LEFT", 5*time.Second).SetVal(payload)

			got, raw, err := q.Dequeue(ctx, 5*time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.TaskID).To(Equal("task-1"))
			Expect(got.SourceKey).To(Equal("uploads/r.png"))
			Expect(raw).To(Equal(payload))
		})

		It("reports an empty queue", func() {
			mock.ExpectBLMove(queueName, processingList, "RIGHT", "LEFT", time.Second).RedisNil()

			_, _, err := q.Dequeue(ctx, time.Second)
			Expect(err).To(MatchError(ErrEmpty))
		})

		It("drops a malformed payload from the processing list", func() {
			mock.ExpectBLMove(queueName, processingList, "RIGHT", "LEFT", time.Second).SetVal("not json")
			mock.ExpectLRem(processingList, 1, "not json").SetVal(1)

			_, _, err := q.Dequeue(ctx, time.Second)
			Expect(err).To(MatchError(ContainSubstring("unmarshaling task payload")))
			Expect(errors.Is(err, ErrEmpty)).To(BeFalse())
		})
	})

	Describe("Ack", func() {
		It("removes the in-flight payload", func() {
			payload := mustMarshal(Task{TaskID: "task-1", SourceKey: "uploads/r.png"})
			mock.ExpectLRem(processingList, 1, payload).SetVal(1)

			Expect(q.Ack(ctx, payload)).To(Succeed())
		})
	})

	Describe("Requeue", func() {
		It("drains abandoned payloads back onto the main queue", func() {
			mock.ExpectLMove(processingList, queueName, "RIGHT", "LEFT").SetVal("p1")
			mock.ExpectLMove(processingList, queueName, "RIGHT", "LEFT").SetVal("p2")
			mock.ExpectLMove(processingList, queueName, "RIGHT", "LEFT").RedisNil()

			count, err := q.Requeue(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(2))
		})

		It("returns zero when nothing was in flight", func() {
			mock.ExpectLMove(processingList, queueName, "RIGHT", "LEFT").RedisNil()

			count, err := q.Requeue(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(BeZero())
		})
	})
})
