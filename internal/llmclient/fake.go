package llmclient

import "context"

// Fake is an in-memory Client for tests: Responses is consumed in order,
// one per Chat call; Err, if set, is returned instead (and not consumed).
type Fake struct {
	Responses []*ChatResponse
	Err       error
	Calls     []ChatRequest

	next int
}

func (f *Fake) Provider() string { return "fake" }

func (f *Fake) Model() string { return "fake-model" }

func (f *Fake) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	f.Calls = append(f.Calls, req)
	if err := ctx.Err(); err != nil {
		return nil, ErrAborted
	}
	if f.Err != nil {
		return nil, f.Err
	}
	if f.next >= len(f.Responses) {
		return &ChatResponse{}, nil
	}
	resp := f.Responses[f.next]
	f.next++
	return resp, nil
}
