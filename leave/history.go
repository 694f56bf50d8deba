/*
history.go - Cursor-paginated transaction history

PURPOSE:
  Returns an employee's transactions in chronological order, one page at a
  time. History never reads the balance table, so a balance failure cannot
  hide history.

PAGINATION:
  Pages are keyed on (timestamp, id), not offsets. A page token encodes the
  last item of the previous page; the next page starts strictly after it.
  Transactions appended between two fetches always sort after every item
  already returned, so nothing is duplicated or skipped.

  We fetch pageSize+1 rows to know whether another page exists, so the last
  page never carries a token that leads to an empty page.

TOKEN FORMAT:
  base64url("<unix-micros>:<transaction-id>"), opaque to clients.
*/
package leave

import (
	"context"
	"encoding/base64"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// HistoryReader serves paginated transaction history.
type HistoryReader struct {
	Store   Store
	Options Options
}

// GetHistory returns one page of the employee's transactions. An employee
// with no transactions gets an empty page and no token, not an error.
func (h *HistoryReader) GetHistory(ctx context.Context, id EmployeeID, pageSize int, pageToken string) (Page, error) {
	if err := id.Validate(); err != nil {
		return Page{}, err
	}

	var after *Cursor
	if pageToken != "" {
		c, err := DecodePageToken(pageToken)
		if err != nil {
			return Page{}, err
		}
		after = &c
	}

	size := normalizePageSize(pageSize)
	cctx, cancel := h.Options.withDefaults().storeCtx(ctx)
	defer cancel()

	txs, err := h.Store.ListTransactions(cctx, id, after, size+1)
	if err != nil {
		return Page{}, Unavailable("list transactions", err)
	}

	page := Page{Items: make([]Transaction, 0, min(len(txs), size))}
	if len(txs) > size {
		txs = txs[:size]
		page.NextPageToken = EncodePageToken(txs[size-1].Cursor())
	}
	page.Items = append(page.Items, txs...)
	return page, nil
}

func normalizePageSize(n int) int {
	switch {
	case n <= 0:
		return DefaultPageSize
	case n > MaxPageSize:
		return MaxPageSize
	default:
		return n
	}
}

// EncodePageToken renders a cursor as an opaque page token.
func EncodePageToken(c Cursor) string {
	raw := strconv.FormatInt(c.Timestamp.UnixMicro(), 10) + ":" + string(c.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodePageToken parses a token produced by EncodePageToken.
func DecodePageToken(token string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, ErrInvalidPageToken
	}
	ts, id, ok := strings.Cut(string(raw), ":")
	if !ok || id == "" {
		return Cursor{}, ErrInvalidPageToken
	}
	micros, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return Cursor{}, ErrInvalidPageToken
	}
	return Cursor{Timestamp: time.UnixMicro(micros).UTC(), ID: TransactionID(id)}, nil
}
