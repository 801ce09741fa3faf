package webpush

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// DeliverAll sends msg to every subscription concurrently. The result at
// index i always belongs to subs[i]; no delivery failure, including a panic,
// keeps the others from completing.
func (c *Client) DeliverAll(ctx context.Context, subs []*Subscription, msg *Message) []*Result {
	results := make([]*Result, len(subs))

	payload, err := json.Marshal(msg)
	if err != nil {
		for i, sub := range subs {
			results[i] = failed(endpointOf(sub), 0, fmt.Sprintf("marshaling message: %v", err))
		}
		return results
	}

	var g errgroup.Group
	if c.concurrency > 0 {
		g.SetLimit(c.concurrency)
	}
	for i, sub := range subs {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					results[i] = failed(endpointOf(sub), 0, fmt.Sprintf("delivery panicked: %v", r))
				}
			}()
			results[i] = c.Send(ctx, sub, payload, nil)
			return nil
		})
	}
	g.Wait()

	return results
}
