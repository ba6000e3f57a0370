package sidecar

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/vaultauth/core/infrastructure/testutil"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := testutil.NewHTTPTestServer(t, handler)
	t.Cleanup(server.Close)

	c, err := New(Config{BaseURL: server.URL, ServiceID: "authd"}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestGetWalletBalances_Success(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Service-ID") != "authd" {
			t.Errorf("missing service ID header")
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"balances": []TokenBalance{{Mint: "", Amount: "1000000000", Decimals: 9}},
		})
	})

	balances, err := c.GetWalletBalances(context.Background(), "addr1")
	if err != nil {
		t.Fatalf("GetWalletBalances() error = %v", err)
	}
	if len(balances) != 1 || balances[0].Amount != "1000000000" {
		t.Errorf("balances = %+v", balances)
	}
}

func TestTransferSOL_RejectedMapsToSidecarRejected(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"insufficient balance"}`))
	})

	_, err := c.TransferSOL(context.Background(), TransferSOLRequest{FromAddress: "a", ToAddress: "b", LamportsQty: "1"})
	if err == nil {
		t.Fatal("expected an error for a 400 response")
	}
}

func TestTransferSPL_InternalErrorMapsToSidecarInternal(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`boom`))
	})

	_, err := c.TransferSPL(context.Background(), TransferSPLRequest{FromAddress: "a", ToAddress: "b", Mint: "m", AmountQty: "1"})
	if err == nil {
		t.Fatal("expected an error for a 500 response")
	}
}

func TestExecutePrivateDeposit_Success(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(TransferResult{Signature: "sig1", Slot: 42})
	})

	result, err := c.ExecutePrivateDeposit(context.Background(), ExecutePrivateDepositRequest{FromAddress: "a", Mint: "m", AmountQty: "1", NoteCommit: "c"})
	if err != nil {
		t.Fatalf("ExecutePrivateDeposit() error = %v", err)
	}
	if result.Signature != "sig1" || result.Slot != 42 {
		t.Errorf("result = %+v", result)
	}
}

func TestWithdrawNote_Success(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(TransferResult{Signature: "sig2", Slot: 7})
	})

	result, err := c.WithdrawNote(context.Background(), WithdrawNoteRequest{ToAddress: "a", NoteSecret: "s"})
	if err != nil {
		t.Fatalf("WithdrawNote() error = %v", err)
	}
	if result.Signature != "sig2" {
		t.Errorf("result = %+v", result)
	}
}
