package api

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/suspectuso/paylink-relay/internal/storage"
	"github.com/suspectuso/paylink-relay/internal/stripeapi"
	"github.com/suspectuso/paylink-relay/internal/validation"
)

type sellerRequest struct {
	Name  string `json:"name" validate:"required,min=2,personname"`
	Email string `json:"email" validate:"required,email"`
}

func (s *Server) decodeSeller(w http.ResponseWriter, r *http.Request) (sellerRequest, bool) {
	var req sellerRequest
	if err := decodeRequest(r, &req); err != nil {
		s.respondError(w, r, err, nil)
		return req, false
	}
	req.Email = strings.ToLower(req.Email)
	if verr := validation.ValidateStruct(req); verr != nil {
		s.respondError(w, r, verr, map[string]string{"email": req.Email, "name": req.Name})
		return req, false
	}
	return req, true
}

type sellerView struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	PaymentLink string `json:"paymentLink"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeSeller(w, r)
	if !ok {
		return
	}

	seller, err := s.deps.Store.FindSellerByLogin(r.Context(), req.Name, req.Email)
	if errors.Is(err, storage.ErrNotFound) {
		err = newHTTPError(http.StatusNotFound, "Seller not found. Invalid name or email.")
	}
	if err != nil {
		s.respondError(w, r, err, map[string]string{"email": req.Email, "name": req.Name})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"message": "Login successful",
		"seller": sellerView{
			ID:          seller.ID,
			Email:       seller.Email,
			Name:        seller.Name,
			PaymentLink: seller.PaymentLink,
		},
	})
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeSeller(w, r)
	if !ok {
		return
	}
	oldInput := map[string]string{"email": req.Email, "name": req.Name}

	accountID, err := s.deps.Provider.CreateExpressAccount(r.Context(), stripeapi.ExpressAccountRequest{Email: req.Email})
	if err != nil {
		s.respondError(w, r, err, oldInput)
		return
	}

	if _, err := s.deps.Store.CreateSeller(r.Context(), accountID, req.Name, req.Email); err != nil {
		s.respondError(w, r, err, oldInput)
		return
	}

	s.log.Info("seller account created", "account", accountID)
	respondJSON(w, http.StatusOK, map[string]string{"account": accountID})
}

type updateAccountRequest struct {
	Account string `json:"account" validate:"required,accountid"`
	PayLink string `json:"payLink" validate:"required,url"`
}

func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	var req updateAccountRequest
	if err := decodeRequest(r, &req); err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	req.Account = strings.TrimSpace(chi.URLParam(r, "account"))

	oldInput := map[string]string{"connectedAccountId": req.Account, "payLink": req.PayLink}
	if verr := validation.ValidateStruct(req); verr != nil {
		s.respondError(w, r, verr, oldInput)
		return
	}

	acct, err := s.deps.Provider.GetAccount(r.Context(), req.Account)
	if err != nil {
		s.respondError(w, r, err, oldInput)
		return
	}

	if err := s.deps.Store.MarkSellerOnboarded(r.Context(), acct.ID, req.PayLink); err != nil {
		s.respondError(w, r, err, oldInput)
		return
	}

	s.log.Info("seller onboarded", "account", acct.ID)
	respondJSON(w, http.StatusOK, map[string]string{"account": acct.ID})
}

// onboardingLink creates an onboarding link that returns to this server.
func (s *Server) onboardingLink(r *http.Request, accountID string) (string, error) {
	q := "?accountId=" + url.QueryEscape(accountID)
	return s.deps.Provider.CreateAccountLink(r.Context(), accountID,
		s.opts.BaseURL+"reauth"+q,
		s.opts.BaseURL+"onboard-success"+q,
	)
}

func (s *Server) handleCreateAccountLink(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeAccount(w, r)
	if !ok {
		return
	}

	link, err := s.onboardingLink(r, req.AccountID)
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, urlResponse{URL: link})
}

func (s *Server) handleDetails(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeAccount(w, r)
	if !ok {
		return
	}
	oldInput := map[string]string{"accountId": req.AccountID}

	acct, err := s.deps.Provider.GetAccount(r.Context(), req.AccountID)
	if err != nil {
		s.respondError(w, r, err, oldInput)
		return
	}
	link, err := s.deps.Provider.CreateLoginLink(r.Context(), req.AccountID)
	if err != nil {
		s.respondError(w, r, err, oldInput)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"isVerificationCompleted": acct.VerificationCompleted(),
		"url":                     link,
	})
}

func (s *Server) handleLoginLink(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeAccount(w, r)
	if !ok {
		return
	}

	link, err := s.deps.Provider.CreateLoginLink(r.Context(), req.AccountID)
	if err != nil {
		s.respondError(w, r, err, map[string]string{"accountId": req.AccountID})
		return
	}
	respondJSON(w, http.StatusOK, urlResponse{URL: link})
}

func (s *Server) handlePaymentLink(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeAccount(w, r)
	if !ok {
		return
	}

	link, err := s.deps.Store.SellerPaymentLink(r.Context(), req.AccountID)
	if errors.Is(err, storage.ErrNotFound) {
		err = newHTTPError(http.StatusNotFound, "Payment link not found.")
	}
	if err != nil {
		s.respondError(w, r, err, map[string]string{"accountId": req.AccountID})
		return
	}
	respondJSON(w, http.StatusOK, urlResponse{URL: link})
}

// queryAccount validates the accountId query parameter of the onboarding pages.
func (s *Server) queryAccount(w http.ResponseWriter, r *http.Request) (string, bool) {
	req := accountRequest{AccountID: strings.TrimSpace(r.URL.Query().Get("accountId"))}
	if verr := validation.ValidateStruct(req); verr != nil {
		s.respondError(w, r, verr, map[string]string{"accountId": req.AccountID})
		return "", false
	}
	return req.AccountID, true
}

func (s *Server) handleOnboardSuccess(w http.ResponseWriter, r *http.Request) {
	accountID, ok := s.queryAccount(w, r)
	if !ok {
		return
	}

	link, err := s.deps.Provider.CreateLoginLink(r.Context(), accountID)
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	s.renderPage(w, r, pageOnboardSuccess, link)
}

func (s *Server) handleReauth(w http.ResponseWriter, r *http.Request) {
	accountID, ok := s.queryAccount(w, r)
	if !ok {
		return
	}

	link, err := s.onboardingLink(r, accountID)
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	s.renderPage(w, r, pageReauth, link)
}
