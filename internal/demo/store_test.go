package demo_test

import (
	"context"
	"errors"
)

var errBackend = errors.New("backend unavailable")

type failingStore struct{}

func (failingStore) Get(ctx context.Context, key string) ([]int, error) { return nil, errBackend }
func (failingStore) Put(ctx context.Context, key string, v []int) error { return errBackend }
func (failingStore) Remove(ctx context.Context, key string) error       { return errBackend }
