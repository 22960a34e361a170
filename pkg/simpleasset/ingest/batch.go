package ingest

import (
	"context"

	"github.com/tendant/simple-asset/pkg/simpleasset"
	"golang.org/x/sync/errgroup"
)

// BatchItem is the outcome of one URL in a batch
type BatchItem struct {
	Source string  `json:"source"`
	Result *Result `json:"result,omitempty"`
	Error  string  `json:"error,omitempty"`
	Err    error   `json:"-"`
}

// IngestBatch ingests urls into ns with at most MaxConcurrentIngest
// pipelines in flight. Items are returned in input order; a failing URL
// never stops the others. Repeated URLs are fetched once.
func (p *Pipeline) IngestBatch(ctx context.Context, urls []string, ns simpleasset.Namespace) []BatchItem {
	items := make([]BatchItem, len(urls))
	first := make(map[string]int, len(urls))
	var unique []int
	for i, u := range urls {
		items[i].Source = u
		if _, seen := first[u]; !seen {
			first[u] = i
			unique = append(unique, i)
		}
	}

	var g errgroup.Group
	g.SetLimit(p.maxConcurrent)
	for _, i := range unique {
		g.Go(func() error {
			res, err := p.IngestURL(ctx, urls[i], ns)
			items[i].Result, items[i].Err = res, err
			if err != nil {
				items[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, u := range urls {
		if j := first[u]; j != i {
			items[i].Result, items[i].Err, items[i].Error = items[j].Result, items[j].Err, items[j].Error
		}
	}

	failed := 0
	for _, item := range items {
		if item.Err != nil {
			failed++
		}
	}
	p.logger.InfoContext(ctx, "batch ingest finished", "namespace", ns.String(), "total", len(items), "failed", failed)
	return items
}
