package core

import (
	"context"
	"sync"
)

// AsyncClient runs client operations in goroutines and delivers results on
// channels. Wait blocks until every started operation finished.
//
// Example:
//
//	asyncClient, _ := core.NewAsyncClient(config)
//	defer asyncClient.Close()
//
//	a := asyncClient.RetrieveAsync(ctx, "user_001", core.WithQuery("hiking"))
//	b := asyncClient.RetrieveAsync(ctx, "user_002", core.WithQuery("hiking"))
//	fmt.Println(len((<-a).Context.Memories), len((<-b).Context.Memories))
type AsyncClient struct {
	*Client
	wg sync.WaitGroup
}

// NewAsyncClient creates a new asynchronous recall client.
func NewAsyncClient(cfg *Config, opts ...ClientOption) (*AsyncClient, error) {
	client, err := NewClient(cfg, opts...)
	if err != nil {
		return nil, err
	}

	return &AsyncClient{
		Client: client,
	}, nil
}

// RetrieveAsync runs Retrieve in a goroutine.
func (ac *AsyncClient) RetrieveAsync(ctx context.Context, userID string, opts ...RetrieveOption) <-chan *RetrieveResult {
	resultChan := make(chan *RetrieveResult, 1)
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		resultChan <- &RetrieveResult{Context: ac.Retrieve(ctx, userID, opts...)}
		close(resultChan)
	}()

	return resultChan
}

// SearchAsync runs Search in a goroutine.
func (ac *AsyncClient) SearchAsync(ctx context.Context, userID, query string, opts ...SearchOption) <-chan *SearchResult {
	resultChan := make(chan *SearchResult, 1)
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		memories, err := ac.Search(ctx, userID, query, opts...)
		resultChan <- &SearchResult{
			Memories: memories,
			Error:    err,
		}
		close(resultChan)
	}()

	return resultChan
}

// ImportAsync runs Import in a goroutine.
func (ac *AsyncClient) ImportAsync(ctx context.Context, items []ImportMemory) <-chan *ImportAsyncResult {
	resultChan := make(chan *ImportAsyncResult, 1)
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		result, err := ac.Import(ctx, items)
		resultChan <- &ImportAsyncResult{
			Result: result,
			Error:  err,
		}
		close(resultChan)
	}()

	return resultChan
}

// Wait blocks until all started operations have finished.
func (ac *AsyncClient) Wait() {
	ac.wg.Wait()
}

// Close waits for pending operations and closes the client.
func (ac *AsyncClient) Close() error {
	ac.wg.Wait()
	return ac.Client.Close()
}
