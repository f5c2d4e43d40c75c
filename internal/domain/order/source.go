package order

import "context"

// OrderSource yields the ERP order rows of one cycle, in source order
type OrderSource interface {
	FetchOrders(ctx context.Context) ([]RawRecord, error)
}
