package lincat

import (
	"context"
	"errors"
	"sync"

	"github.com/docutag/lincat/models"
)

// memStore is an in-memory Store keeping (name, owner) unique.
type memStore struct {
	mu         sync.Mutex
	categories map[string]models.Category // by id
	links      []models.Link
	inserts    int

	failList   error
	failInsert error
	failLink   error
	// hideFind makes FindCategoryID miss, as if the name list was stale.
	hideFind bool
}

func newMemStore() *memStore {
	return &memStore{categories: make(map[string]models.Category)}
}

func (m *memStore) ListCategoryNames(ctx context.Context, owner string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failList != nil {
		return nil, m.failList
	}
	var names []string
	for _, c := range m.categories {
		if c.Owner == owner {
			names = append(names, c.Name)
		}
	}
	return names, nil
}

func (m *memStore) FindCategoryID(ctx context.Context, name, owner string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hideFind {
		return "", false, nil
	}
	for id, c := range m.categories {
		if c.Name == name && c.Owner == owner {
			return id, true, nil
		}
	}
	return "", false, nil
}

func (m *memStore) InsertCategory(ctx context.Context, id, name, owner string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInsert != nil {
		return "", m.failInsert
	}
	for existingID, c := range m.categories {
		if c.Name == name && c.Owner == owner {
			return existingID, nil
		}
	}
	m.categories[id] = models.Category{ID: id, Name: name, Owner: owner}
	m.inserts++
	return id, nil
}

func (m *memStore) InsertLink(ctx context.Context, link *models.Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLink != nil {
		return m.failLink
	}
	if _, ok := m.categories[link.CategoryID]; !ok {
		return errors.New("foreign key violation")
	}
	m.links = append(m.links, *link)
	return nil
}

func (m *memStore) categoriesNamed(name, owner string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.categories {
		if c.Name == name && c.Owner == owner {
			n++
		}
	}
	return n
}
