package processing

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/receipt-pipeline/internal/parsing"
)

var _ = Describe("BoltStore", func() {
	var store *BoltStore

	BeforeEach(func() {
		dir, err := os.MkdirTemp("", "receipt-pipeline-db-*")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { os.RemoveAll(dir) })

		store, err = NewBoltStore(filepath.Join(dir, "results.db"))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { store.Close() })
	})

	Describe("Upsert and GetByTaskID", func() {
		It("round-trips a result", func() {
			total := 42.50
			date := "2023-10-15"
			result := &Result{
				TaskID: "task-1",
				Fields: parsing.FinancialFields{
					Merchant: "Walmart",
					Total:    &total,
					Date:     &date,
				},
				RawText: "Walmart\nTotal: 42.50",
				Tags:    []string{"WEEKEND_EXPENSE"},
				Status:  StatusCompleted,
			}
			Expect(store.Upsert(result)).To(Succeed())

			got, err := store.GetByTaskID("task-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Fields.Merchant).To(Equal("Walmart"))
			Expect(got.Fields.Total).To(HaveValue(Equal(42.50)))
			Expect(got.Tags).To(Equal([]string{"WEEKEND_EXPENSE"}))
			Expect(got.Status).To(Equal(StatusCompleted))
			Expect(got.CreatedAt).NotTo(BeZero())
			Expect(got.UpdatedAt).NotTo(BeZero())
		})

		It("returns ErrNotFound for an unknown task", func() {
			_, err := store.GetByTaskID("no-such-task")
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("keeps one record per task ID across repeated upserts", func() {
			first := 10.00
			second := 20.00
			Expect(store.Upsert(&Result{TaskID: "task-1", Fields: parsing.FinancialFields{Total: &first}, Status: StatusCompleted})).To(Succeed())

			created, err := store.GetByTaskID("task-1")
			Expect(err).NotTo(HaveOccurred())

			Expect(store.Upsert(&Result{TaskID: "task-1", Fields: parsing.FinancialFields{Total: &second}, Status: StatusCompleted})).To(Succeed())

			got, err := store.GetByTaskID("task-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Fields.Total).To(HaveValue(Equal(20.00)))
			Expect(got.CreatedAt).To(Equal(created.CreatedAt))
		})
	})

	Describe("SetStatus", func() {
		It("creates a record for a new task", func() {
			Expect(store.SetStatus("task-1", StatusPending, "")).To(Succeed())

			got, err := store.GetByTaskID("task-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(StatusPending))
		})

		It("advances through the lifecycle in order", func() {
			Expect(store.SetStatus("task-1", StatusPending, "")).To(Succeed())
			Expect(store.SetStatus("task-1", StatusStarted, "")).To(Succeed())
			Expect(store.SetStatus("task-1", StatusCompleted, "")).To(Succeed())

			got, _ := store.GetByTaskID("task-1")
			Expect(got.Status).To(Equal(StatusCompleted))
		})

		It("never moves a terminal record backward", func() {
			Expect(store.SetStatus("task-1", StatusPending, "")).To(Succeed())
			Expect(store.SetStatus("task-1", StatusStarted, "")).To(Succeed())
			Expect(store.SetStatus("task-1", StatusError, "boom")).To(Succeed())

			Expect(store.SetStatus("task-1", StatusStarted, "")).To(Succeed())

			got, _ := store.GetByTaskID("task-1")
			Expect(got.Status).To(Equal(StatusError))
			Expect(got.Error).To(Equal("boom"))
		})

		It("ignores a skip from pending straight to completed", func() {
			Expect(store.SetStatus("task-1", StatusPending, "")).To(Succeed())
			Expect(store.SetStatus("task-1", StatusCompleted, "")).To(Succeed())

			got, _ := store.GetByTaskID("task-1")
			Expect(got.Status).To(Equal(StatusPending))
		})
	})
})

var _ = Describe("Status", func() {
	DescribeTable("CanTransition",
		func(from, to Status, allowed bool) {
			Expect(from.CanTransition(to)).To(Equal(allowed))
		},
		Entry("pending to started", StatusPending, StatusStarted, true),
		Entry("started to completed", StatusStarted, StatusCompleted, true),
		Entry("started to error", StatusStarted, StatusError, true),
		Entry("pending to completed", StatusPending, StatusCompleted, false),
		Entry("completed to started", StatusCompleted, StatusStarted, false),
		Entry("error to completed", StatusError, StatusCompleted, false),
	)

	DescribeTable("Terminal",
		func(status Status, terminal bool) {
			Expect(status.Terminal()).To(Equal(terminal))
		},
		Entry("pending", StatusPending, false),
		Entry("started", StatusStarted, false),
		Entry("completed", StatusCompleted, true),
		Entry("error", StatusError, true),
	)
})
