package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// TimeSync estimates the local clock offset from the Date header of a few
// well known servers.
type TimeSync struct {
	servers []string
	client  *http.Client
	log     *slog.Logger

	mu           sync.RWMutex
	offset       time.Duration
	lastSyncTime time.Time
	synced       bool
}

func NewTimeSync(servers []string, log *slog.Logger) *TimeSync {
	if log == nil {
		log = discardLogger()
	}
	return &TimeSync{
		servers: servers,
		client:  &http.Client{Timeout: 5 * time.Second},
		log:     log,
	}
}

// Sync averages the offsets of every server that answered.
func (ts *TimeSync) Sync(ctx context.Context) error {
	var totalOffset time.Duration
	successCount := 0

	for _, server := range ts.servers {
		offset, err := ts.getTimeOffset(ctx, server)
		if err != nil {
			ts.log.Debug("time sync failed", "server", server, "error", err)
			continue
		}

		totalOffset += offset
		successCount++
		ts.log.Debug("time offset", "server", server, "offset", offset)
	}

	if successCount == 0 {
		return fmt.Errorf("failed to sync time with any server")
	}

	ts.mu.Lock()
	ts.offset = totalOffset / time.Duration(successCount)
	ts.lastSyncTime = time.Now()
	ts.synced = true
	ts.mu.Unlock()

	ts.log.Info("time synchronized", "offset", ts.GetOffset(), "servers", successCount)
	return nil
}

func (ts *TimeSync) getTimeOffset(ctx context.Context, url string) (time.Duration, error) {
	beforeRequest := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := ts.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	afterRequest := time.Now()

	dateHeader := resp.Header.Get("Date")
	if dateHeader == "" {
		return 0, fmt.Errorf("no Date header in response")
	}

	serverTime, err := http.ParseTime(dateHeader)
	if err != nil {
		return 0, fmt.Errorf("failed to parse Date header: %w", err)
	}

	// latency is half the round trip
	latency := afterRequest.Sub(beforeRequest) / 2
	return serverTime.Sub(beforeRequest.Add(latency)), nil
}

// Now is local time corrected by the last offset.
func (ts *TimeSync) Now() time.Time {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	if !ts.synced {
		return time.Now()
	}
	return time.Now().Add(ts.offset)
}

func (ts *TimeSync) IsSynced() bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.synced
}

func (ts *TimeSync) GetOffset() time.Duration {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.offset
}

// ShouldResync is true before the first sync and hourly after it.
func (ts *TimeSync) ShouldResync() bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	if !ts.synced {
		return true
	}
	return time.Since(ts.lastSyncTime) > time.Hour
}
