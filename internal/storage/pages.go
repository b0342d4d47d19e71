package storage

import (
	"context"
	"iter"
)

// Pages yields successive listing pages of bucket, following continuation
// tokens until the provider reports the listing is complete. Iteration stops
// after the first error is yielded or when the consumer stops ranging.
func Pages(ctx context.Context, gw Gateway, bucket string, opts ListOptions) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		token := opts.Token
		for {
			page, err := gw.ListItems(ctx, bucket, ListOptions{Prefix: opts.Prefix, PageSize: opts.PageSize, Token: token})
			if err != nil {
				yield(Page{}, err)
				return
			}
			if !yield(page, nil) {
				return
			}
			// a truncated page without a token would loop forever
			if !page.Truncated || page.NextToken == "" {
				return
			}
			token = page.NextToken
		}
	}
}

// TotalBytes sums object sizes across the whole bucket. The figure is
// informational: any failing page yields 0 rather than a partial sum.
func TotalBytes(ctx context.Context, gw Gateway, bucket string) int64 {
	var total int64
	for page, err := range Pages(ctx, gw, bucket, ListOptions{PageSize: MaxPageSize}) {
		if err != nil {
			return 0
		}
		for _, it := range page.Items {
			total += it.Size
		}
	}
	return total
}

// HasItems reports whether bucket holds at least one object, using a listing
// capped at a single result.
func HasItems(ctx context.Context, gw Gateway, bucket string) (bool, error) {
	page, err := gw.ListItems(ctx, bucket, ListOptions{PageSize: 1})
	if err != nil {
		return false, err
	}
	return len(page.Items) > 0, nil
}
