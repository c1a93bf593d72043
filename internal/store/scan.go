package store

import (
	"context"
	"iter"

	"github.com/Checker-Finance/negotiation/pkg/model"
)

// ScanRFQs walks every RFQ matching q page by page, newest first. q.Limit
// is the page size. Each range over the result starts again from q.After.
func ScanRFQs(ctx context.Context, st Store, q RFQQuery) iter.Seq2[model.RFQ, error] {
	return func(yield func(model.RFQ, error) bool) {
		page := q
		for {
			if err := ctx.Err(); err != nil {
				yield(model.RFQ{}, err)
				return
			}
			rfqs, err := st.ListRFQs(ctx, page)
			if err != nil {
				yield(model.RFQ{}, err)
				return
			}
			for _, r := range rfqs {
				if !yield(*r, nil) {
					return
				}
			}
			if len(rfqs) < page.limit() {
				return
			}
			last := rfqs[len(rfqs)-1]
			page.After = &Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
		}
	}
}
