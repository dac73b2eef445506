package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"domainvault/auth"
	"domainvault/checkout"
	"domainvault/listing"
	"domainvault/payout"
)

// TokenVerifier authenticates bearer tokens.
type TokenVerifier interface {
	VerifyToken(token string) (string, auth.Role, error)
}

// AuthService is the surface of the auth service the handlers use.
type AuthService interface {
	TokenVerifier
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	GetUserByID(ctx context.Context, userID string) (*auth.User, error)
}

// ListingService is the surface of the listing service the handlers use.
type ListingService interface {
	Create(ctx context.Context, params listing.CreateParams) (listing.Listing, error)
	Get(ctx context.Context, id string) (listing.Listing, error)
	List(ctx context.Context, filters listing.Filters) (listing.ListResult, error)
	Moderate(ctx context.Context, params listing.ModerateParams) (listing.Listing, error)
}

// CheckoutService initiates purchases.
type CheckoutService interface {
	Initiate(ctx context.Context, params checkout.InitiateParams) (checkout.Result, error)
}

// PayoutReader lists a seller's payout history.
type PayoutReader interface {
	ListBySeller(ctx context.Context, sellerID string, limit int) ([]payout.Record, error)
}

// Server wires the HTTP surface to the domain services.
type Server struct {
	authService     AuthService
	listingService  ListingService
	checkoutService CheckoutService
	payouts         PayoutReader
	webhook         http.Handler
	logger          *zap.Logger
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/auth/register", s.handleRegister)
	mux.HandleFunc("/api/auth/login", s.handleLogin)
	mux.HandleFunc("/api/listings", s.handleListings)
	mux.HandleFunc("/api/listings/", s.handleListingByID)
	mux.HandleFunc("/api/admin/moderate", s.handleModerate)
	mux.HandleFunc("/api/payouts", s.handlePayouts)
	mux.HandleFunc("/api/checkout", s.handleCheckout)
	mux.Handle("/api/webhooks/stripe", s.webhook)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type registerResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrWeakPassword):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, auth.ErrDuplicateEmail):
			writeError(w, http.StatusConflict, err.Error())
		default:
			s.logger.Error("register failed", zap.Error(err))
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{
		ID:       user.ID,
		Email:    user.Email,
		FullName: user.FullName,
		Role:     string(user.Role),
	})
}

type loginResponse struct {
	Token string `json:"token"`
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		s.logger.Error("login failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token: result.Token,
		ID:    result.User.ID,
		Email: result.User.Email,
		Role:  string(result.User.Role),
	})
}

type listingResponse struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	Description        *string `json:"description,omitempty"`
	Category           string  `json:"category"`
	SellerID           string  `json:"seller_id"`
	PriceCents         int64   `json:"price_cents"`
	IsForSale          bool    `json:"is_for_sale"`
	VerificationStatus string  `json:"verification_status"`
	SaleStatus         string  `json:"sale_status"`
	CreatedAt          string  `json:"created_at"`
}

func toListingResponse(l listing.Listing) listingResponse {
	return listingResponse{
		ID:                 l.ID,
		Name:               l.Name,
		Description:        l.Description,
		Category:           l.Category,
		SellerID:           l.SellerID,
		PriceCents:         l.PriceCents,
		IsForSale:          l.IsForSale,
		VerificationStatus: string(l.VerificationStatus),
		SaleStatus:         string(l.SaleStatus),
		CreatedAt:          l.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleListings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listListings(w, r)
	case http.MethodPost:
		s.createListing(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) listListings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := listing.Filters{
		Category:  q.Get("category"),
		Search:    q.Get("search"),
		SellerID:  q.Get("seller_id"),
		SortKey:   q.Get("sort"),
		SortOrder: q.Get("order"),
	}
	filters.Page, _ = strconv.Atoi(q.Get("page"))
	filters.PageSize, _ = strconv.Atoi(q.Get("page_size"))
	filters.MinPrice, _ = strconv.ParseInt(q.Get("min_price"), 10, 64)
	filters.MaxPrice, _ = strconv.ParseInt(q.Get("max_price"), 10, 64)
	if status := q.Get("sale_status"); status != "" {
		filters.SaleStatus = listing.SaleStatus(status)
	}

	result, err := s.listingService.List(r.Context(), filters)
	if err != nil {
		s.logger.Error("list listings failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list domains")
		return
	}

	items := make([]listingResponse, 0, len(result.Items))
	for _, l := range result.Items {
		items = append(items, toListingResponse(l))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": result.Total})
}

type createListingRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
	Category    string  `json:"category"`
	PriceCents  int64   `json:"price_cents"`
}

func (s *Server) createListing(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if role != auth.RoleSeller && role != auth.RoleAdmin {
		writeError(w, http.StatusForbidden, "only sellers can list domains")
		return
	}

	var req createListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := s.listingService.Create(r.Context(), listing.CreateParams{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		SellerID:    userID,
		PriceCents:  req.PriceCents,
	})
	if err != nil {
		if errors.Is(err, listing.ErrDuplicateName) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, toListingResponse(created))
}

func (s *Server) handleListingByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/listings/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	l, err := s.listingService.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, listing.ErrNotFound) {
			writeError(w, http.StatusNotFound, "domain not found")
			return
		}
		s.logger.Error("get listing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load domain")
		return
	}

	writeJSON(w, http.StatusOK, toListingResponse(l))
}

type moderateRequest struct {
	ListingID string `json:"listing_id"`
	Decision  string `json:"decision"`
}

func (s *Server) handleModerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	_, role, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	var req moderateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, err := s.listingService.Moderate(r.Context(), listing.ModerateParams{
		ListingID: req.ListingID,
		ActorRole: role,
		Decision:  listing.VerificationStatus(req.Decision),
	})
	if err != nil {
		switch {
		case errors.Is(err, listing.ErrModerationForbidden):
			writeError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, listing.ErrInvalidModeration):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, listing.ErrNotFound):
			writeError(w, http.StatusNotFound, "domain not found")
		default:
			s.logger.Error("moderation failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "moderation failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, toListingResponse(updated))
}

type payoutResponse struct {
	ID               string `json:"id"`
	SaleID           string `json:"sale_id"`
	AmountCents      int64  `json:"amount_cents"`
	StripeTransferID string `json:"stripe_transfer_id"`
	Status           string `json:"status"`
	CreatedAt        string `json:"created_at"`
}

func (s *Server) handlePayouts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	userID, role, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if role != auth.RoleSeller && role != auth.RoleAdmin {
		writeError(w, http.StatusForbidden, "payout history is seller-only")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.payouts.ListBySeller(r.Context(), userID, limit)
	if err != nil {
		s.logger.Error("list payouts failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list payouts")
		return
	}

	items := make([]payoutResponse, 0, len(records))
	for _, rec := range records {
		items = append(items, payoutResponse{
			ID:               rec.ID,
			SaleID:           rec.SaleID,
			AmountCents:      rec.AmountCents,
			StripeTransferID: rec.StripeTransferID,
			Status:           string(rec.Status),
			CreatedAt:        rec.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type checkoutRequest struct {
	DomainID   string `json:"domain_id"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

type checkoutResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "*")

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	userID, _, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DomainID == "" || req.SuccessURL == "" || req.CancelURL == "" {
		writeError(w, http.StatusBadRequest, "Missing required parameters")
		return
	}

	user, err := s.authService.GetUserByID(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Failed to authenticate user")
		return
	}

	result, err := s.checkoutService.Initiate(r.Context(), checkout.InitiateParams{
		ListingID:  req.DomainID,
		BuyerID:    user.ID,
		BuyerEmail: user.Email,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		switch {
		case errors.Is(err, checkout.ErrListingUnavailable):
			writeError(w, http.StatusNotFound, "Domain not found or not available for sale")
		case errors.Is(err, checkout.ErrSelfPurchase):
			writeError(w, http.StatusBadRequest, "You cannot purchase your own domain")
		case errors.Is(err, checkout.ErrSellerNotPayoutReady):
			writeError(w, http.StatusBadRequest, "Seller is not set up to receive payouts")
		case errors.Is(err, checkout.ErrPriceBelowMinimumFee):
			writeError(w, http.StatusBadRequest, "Listing price does not cover the marketplace fee")
		case errors.Is(err, checkout.ErrPersistence):
			s.logger.Error("checkout persistence failure", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to create sale record")
		default:
			s.logger.Error("checkout failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to start checkout")
		}
		return
	}

	writeJSON(w, http.StatusOK, checkoutResponse{SessionID: result.SessionID, URL: result.URL})
}

// authenticate resolves the bearer token; on failure it writes the 401 and
// returns ok=false.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (string, auth.Role, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return "", "", false
	}

	userID, role, err := s.authService.VerifyToken(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return "", "", false
	}
	return userID, role, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
