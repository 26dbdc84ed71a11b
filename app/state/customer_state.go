// Package state persists the small client-side tracking state: the
// active customer order pointer (with expiry) and a bounded order
// history, stored as JSON next to the application data.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// HistoryLimit bounds the remembered order ids.
const HistoryLimit = 10

// ActiveOrderRef points at the order a customer is currently tracking.
type ActiveOrderRef struct {
	OrderID string `json:"orderId"`
	// ExpiresAt is epoch milliseconds; nil means no expiry.
	ExpiresAt *int64 `json:"expiresAt,omitempty"`
}

// Expired reports whether the pointer has passed its expiry.
func (r ActiveOrderRef) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && now.UnixMilli() >= *r.ExpiresAt
}

type fileContent struct {
	Active  *ActiveOrderRef `json:"active,omitempty"`
	History []string        `json:"history,omitempty"`
}

// Store reads and writes the tracking state file.
type Store struct {
	path string
}

// NewStore creates a store rooted at the given data directory.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("could not create state directory: %w", err)
	}
	return &Store{path: filepath.Join(dataDir, "customer_state.json")}, nil
}

// ActiveOrder returns the tracked order pointer, dropping it when
// expired.
func (s *Store) ActiveOrder() (*ActiveOrderRef, error) {
	content, err := s.load()
	if err != nil {
		return nil, err
	}
	if content.Active == nil {
		return nil, nil
	}
	if content.Active.Expired(time.Now()) {
		content.Active = nil
		if err := s.save(content); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return content.Active, nil
}

// SetActiveOrder records the pointer and pushes the order id onto the
// history, trimming it to HistoryLimit.
func (s *Store) SetActiveOrder(ref ActiveOrderRef) error {
	content, err := s.load()
	if err != nil {
		return err
	}
	content.Active = &ref
	content.History = pushHistory(content.History, ref.OrderID)
	return s.save(content)
}

// ClearActiveOrder drops the pointer, keeping the history.
func (s *Store) ClearActiveOrder() error {
	content, err := s.load()
	if err != nil {
		return err
	}
	content.Active = nil
	return s.save(content)
}

// History returns the remembered order ids, most recent first.
func (s *Store) History() ([]string, error) {
	content, err := s.load()
	if err != nil {
		return nil, err
	}
	return content.History, nil
}

func (s *Store) load() (*fileContent, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &fileContent{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not read state file: %w", err)
	}
	var content fileContent
	if err := json.Unmarshal(data, &content); err != nil {
		return nil, fmt.Errorf("could not parse state file: %w", err)
	}
	return &content, nil
}

func (s *Store) save(content *fileContent) error {
	data, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("could not write state file: %w", err)
	}
	return nil
}

func pushHistory(history []string, orderID string) []string {
	out := []string{orderID}
	for _, id := range history {
		if id != orderID {
			out = append(out, id)
		}
	}
	if len(out) > HistoryLimit {
		out = out[:HistoryLimit]
	}
	return out
}
