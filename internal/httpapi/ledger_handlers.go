package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"passkeygate.org/internal/account"
	"passkeygate.org/internal/ledger"
)

// LedgerView is the read side of the in-process ledger.
type LedgerView interface {
	GetAccount(ctx context.Context, id account.ID) (ledger.Account, error)
	Receipts(ctx context.Context, limit int, afterSeq uint64) ([]ledger.Receipt, uint64, error)
}

type accountResponse struct {
	ledger.Account
	Balance string `json:"balance"`
	Locked  string `json:"locked"`
}

type listReceiptsResponse struct {
	Items     []ledger.Receipt `json:"items"`
	NextAfter uint64           `json:"next_after"`
	AsOf      time.Time        `json:"as_of"`
}

func (a *API) getLedgerAccount(w http.ResponseWriter, r *http.Request) {
	id, err := account.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	acc, err := a.ledger.GetAccount(r.Context(), id)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	resp := accountResponse{Account: acc, Balance: "0", Locked: "0"}
	if acc.Balance != nil {
		resp.Balance = acc.Balance.Dec()
	}
	if acc.Locked != nil {
		resp.Locked = acc.Locked.Dec()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) listReceipts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parsePositiveInt(q.Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var after uint64
	if raw := strings.TrimSpace(q.Get("after")); raw != "" {
		after, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
	}
	items, next, err := a.ledger.Receipts(r.Context(), limit, after)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	if items == nil {
		items = []ledger.Receipt{}
	}
	writeJSON(w, http.StatusOK, listReceiptsResponse{
		Items:     items,
		NextAfter: next,
		AsOf:      time.Now().UTC(),
	})
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between 1 and 1000")
	}
	return val, nil
}

func handleLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		handleGatewayError(w, r, err)
	}
}
