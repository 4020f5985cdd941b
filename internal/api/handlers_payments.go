package api

import (
	"io"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/suspectuso/paylink-relay/internal/correlator"
	"github.com/suspectuso/paylink-relay/internal/reconcile"
	"github.com/suspectuso/paylink-relay/internal/stripeapi"
	"github.com/suspectuso/paylink-relay/internal/validation"
)

const maxWebhookBytes = 512 << 10

// --- Webhook ---

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		s.respondError(w, r, errBadBody, nil)
		return
	}

	res, err := s.deps.Payments.HandleDelivery(r.Context(), payload, r.Header.Get(stripeapi.SignatureHeader))
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}

	switch res.Status {
	case correlator.StatusDuplicate, correlator.StatusIgnored:
		respondJSON(w, http.StatusOK, map[string]bool{"received": true})
	case correlator.StatusUnresolved:
		respondJSON(w, http.StatusOK, map[string]bool{"success": false})
	default:
		respondJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

// --- Session poll ---

type userSessionRequest struct {
	Customer string `url:"customer" validate:"required,accountid"`
	Account  string `url:"account" validate:"required,accountid"`
}

func (s *Server) handleUserSession(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := userSessionRequest{Customer: q.Get("customer"), Account: q.Get("account")}

	if req.Customer == "" || req.Account == "" {
		http.Error(w, "Missing session_id or account", http.StatusBadRequest)
		return
	}
	if verr := validation.ValidateStruct(req); verr != nil {
		s.respondError(w, r, verr, map[string]string{"customer": req.Customer, "account": req.Account})
		return
	}

	res, err := s.deps.Payments.HandlePoll(r.Context(), req.Customer, req.Account)
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	http.Redirect(w, r, res.Redirect, http.StatusFound)
}

// --- Payment links ---

type createPaymentLinkRequest struct {
	AccountID    string `json:"accountId" validate:"required,accountid"`
	ProductName  string `json:"productName" validate:"required,productname"`
	ProductPrice string `json:"productPrice" validate:"required,price"`
	DeviceID     string `json:"deviceID" validate:"required,deviceid"`
}

type urlResponse struct {
	URL string `json:"url"`
}

func (s *Server) handleCreatePaymentLink(w http.ResponseWriter, r *http.Request) {
	var req createPaymentLinkRequest
	if err := decodeRequest(r, &req); err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	oldInput := map[string]string{"productName": req.ProductName, "productPrice": req.ProductPrice}
	if verr := validation.ValidateStruct(req); verr != nil {
		s.respondError(w, r, verr, oldInput)
		return
	}

	// validated as a positive decimal
	price, _ := decimal.NewFromString(req.ProductPrice)
	amount := reconcile.MajorToMinor(price)
	if amount <= 0 {
		s.respondError(w, r, newHTTPError(http.StatusBadRequest, "Invalid Product Price. Must be a positive number."), oldInput)
		return
	}

	link, err := s.deps.Provider.CreatePaymentLink(r.Context(), stripeapi.PaymentLinkRequest{
		AccountID:   req.AccountID,
		ProductName: req.ProductName,
		AmountMinor: amount,
		RedirectURL: s.opts.BaseURL + "user?customer={CHECKOUT_SESSION_ID}&account=" + url.QueryEscape(req.AccountID),
	})
	if err != nil {
		s.respondError(w, r, err, oldInput)
		return
	}

	respondJSON(w, http.StatusOK, urlResponse{
		URL: link + "?client_reference_id=" + url.QueryEscape(req.DeviceID),
	})
}

// --- Balances ---

type deviceBalanceRequest struct {
	DeviceID string `json:"deviceID" validate:"required,deviceid"`
}

type deviceBalanceResponse struct {
	Available float64 `json:"available"`
	Pending   int     `json:"pending"`
}

func (s *Server) handleDeviceBalance(w http.ResponseWriter, r *http.Request) {
	var req deviceBalanceRequest
	if err := decodeRequest(r, &req); err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	oldInput := map[string]string{"deviceID": req.DeviceID}
	if verr := validation.ValidateStruct(req); verr != nil {
		s.respondError(w, r, verr, oldInput)
		return
	}

	device, err := s.deps.Store.GetDevice(r.Context(), req.DeviceID)
	if err != nil {
		s.respondError(w, r, err, oldInput)
		return
	}

	respondJSON(w, http.StatusOK, deviceBalanceResponse{
		Available: reconcile.MinorToMajor(device.BalanceMinor).InexactFloat64(),
		Pending:   0,
	})
}

type accountRequest struct {
	AccountID string `json:"accountId" validate:"required,accountid"`
}

// decodeAccount reads and validates a body holding only an account id.
func (s *Server) decodeAccount(w http.ResponseWriter, r *http.Request) (accountRequest, bool) {
	var req accountRequest
	if err := decodeRequest(r, &req); err != nil {
		s.respondError(w, r, err, nil)
		return req, false
	}
	if verr := validation.ValidateStruct(req); verr != nil {
		s.respondError(w, r, verr, map[string]string{"accountId": req.AccountID})
		return req, false
	}
	return req, true
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeAccount(w, r)
	if !ok {
		return
	}

	balance, err := s.deps.Provider.GetBalance(r.Context(), req.AccountID)
	if err != nil {
		s.respondError(w, r, err, map[string]string{"accountId": req.AccountID})
		return
	}
	respondJSON(w, http.StatusOK, balance)
}

func (s *Server) handlePayouts(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeAccount(w, r)
	if !ok {
		return
	}

	payouts, err := s.deps.Provider.ListPayouts(r.Context(), req.AccountID)
	if err != nil {
		s.respondError(w, r, err, map[string]string{"accountId": req.AccountID})
		return
	}
	respondJSON(w, http.StatusOK, map[string][]stripeapi.Payout{"payouts": payouts})
}
