package client

import "context"

// Classification is one per-frame result of the local gesture classifier.
type Classification struct {
	Label string
	Score float64
}

// Classifier turns local video into gesture labels. Start is called once per
// call, when the first remote track arrives; the results channel is closed
// when ctx is cancelled or the classifier stops.
type Classifier interface {
	Start(ctx context.Context) (<-chan Classification, error)
	Stop()
}
