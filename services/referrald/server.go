package referrald

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"nameref/crypto/merkle"
	"nameref/native/bank"
	"nameref/native/referral"
	"nameref/native/registrar"
	"nameref/observability"
)

const maxBodyBytes = 1 << 20

var (
	errBadRequest     = errors.New("bad request")
	errUnknownProgram = errors.New("unknown program")
)

// Server exposes the referral programs over HTTP.
type Server struct {
	app    *App
	auth   *Authenticator
	limit  *RateLimiter
	logger *slog.Logger
	router chi.Router
}

// NewServer builds the router.
func NewServer(app *App, auth *Authenticator, limiter *RateLimiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{app: app, auth: auth, limit: limiter, logger: logger}
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the server wrapped with OpenTelemetry instrumentation.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s, "referrald")
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(s.observe)
	if s.limit != nil {
		r.Use(s.limit.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/accounts/{address}", s.handleAccount)

	r.Route("/programs/{id}", func(pr chi.Router) {
		pr.Get("/", s.handleProgram)
		pr.Get("/loyalty/{referrer}", s.handleLoyalty)
		pr.Get("/claims/{referrer}", s.handleClaim)

		pr.Group(func(auth chi.Router) {
			if s.auth != nil {
				auth.Use(s.auth.Middleware)
			}
			auth.Post("/register", s.handleRegister)
			auth.Post("/renew", s.handleRenew)
			auth.Post("/deposit", s.handleDeposit)
			auth.Post("/close", s.handleClose)
			auth.Post("/allowlist", s.handleAllowlist)
			auth.Post("/withdraw", s.handleWithdraw)
		})
	})
	return r
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		route := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)
		observability.HTTP().Observe(route, r.Method, recorder.status, elapsed)
		s.logger.Debug("request served",
			slog.String("request_id", RequestIDFrom(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", recorder.status),
			slog.Duration("elapsed", elapsed))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

type programView struct {
	ID               string `json:"id"`
	Address          string `json:"address"`
	Escrow           string `json:"escrow"`
	Owner            string `json:"owner"`
	Strategy         string `json:"strategy"`
	PayoutMode       string `json:"payout_mode"`
	Balance          string `json:"balance"`
	AllowlistEnabled bool   `json:"allowlist_enabled"`
	AllowlistRoot    string `json:"allowlist_root,omitempty"`
}

func (s *Server) handleProgram(w http.ResponseWriter, r *http.Request) {
	program, err := s.program(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	balance, err := program.Balance()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	view := programView{
		ID:               program.ID(),
		Address:          program.Address().Hex(),
		Escrow:           program.EscrowAddress().Hex(),
		Owner:            program.Owner().Hex(),
		Strategy:         referral.Describe(program.Strategy()),
		PayoutMode:       program.PayoutMode().String(),
		Balance:          balance.Dec(),
		AllowlistEnabled: program.AllowlistEnabled(),
	}
	if view.AllowlistEnabled {
		root, err := program.AllowlistRoot()
		if err != nil {
			s.fail(w, r, err)
			return
		}
		view.AllowlistRoot = root.Hex()
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleLoyalty(w http.ResponseWriter, r *http.Request) {
	program, err := s.program(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	referrer, err := pathAddress(r, "referrer")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	total, err := program.LoyaltyOf(referrer)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"referrer":   referrer.Hex(),
		"cumulative": total.Dec(),
		"rate_bps":   referral.LoyaltyRateBps(total),
	})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	program, err := s.program(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	referrer, err := pathAddress(r, "referrer")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	claim, err := program.Claimable(referrer)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"referrer":  referrer.Hex(),
		"claimable": claim.Dec(),
	})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	balance, err := s.app.Balance(addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"address": addr.Hex(),
		"balance": balance.Dec(),
	})
}

type registerBody struct {
	Name         string `json:"name"`
	Owner        string `json:"owner"`
	Secret       string `json:"secret"`
	Subregistry  string `json:"subregistry"`
	Resolver     string `json:"resolver"`
	Flags        string `json:"flags"`
	Duration     uint64 `json:"duration"`
	Referrer     string `json:"referrer"`
	ReferrerData string `json:"referrer_data"`
	Value        string `json:"value"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	program, caller, err := s.authorised(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body registerBody
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	req := referral.RegisterRequest{Name: body.Name, Duration: body.Duration}
	var value *uint256.Int
	err = firstError(
		func() (err error) { req.Owner, err = parseAddress(body.Owner, "owner", true); return },
		func() (err error) { req.Subregistry, err = parseAddress(body.Subregistry, "subregistry", false); return },
		func() (err error) { req.Resolver, err = parseAddress(body.Resolver, "resolver", false); return },
		func() (err error) { req.Referrer, err = parseAddress(body.Referrer, "referrer", false); return },
		func() (err error) { req.Secret, err = parseHash(body.Secret); return },
		func() (err error) { req.Flags, err = parseFlags(body.Flags); return },
		func() (err error) { req.ReferrerData, err = parseHex(body.ReferrerData, "referrer_data"); return },
		func() (err error) { value, err = parseValue(body.Value); return },
	)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	tokenID, err := program.Register(r.Context(), referral.Call{From: caller, Value: value}, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"name":     req.Name,
		"token_id": tokenID.String(),
	})
}

type renewBody struct {
	Name         string `json:"name"`
	Duration     uint64 `json:"duration"`
	Referrer     string `json:"referrer"`
	ReferrerData string `json:"referrer_data"`
	Value        string `json:"value"`
}

func (s *Server) handleRenew(w http.ResponseWriter, r *http.Request) {
	program, caller, err := s.authorised(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body renewBody
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	req := referral.RenewRequest{Name: body.Name, Duration: body.Duration}
	var value *uint256.Int
	err = firstError(
		func() (err error) { req.Referrer, err = parseAddress(body.Referrer, "referrer", false); return },
		func() (err error) { req.ReferrerData, err = parseHex(body.ReferrerData, "referrer_data"); return },
		func() (err error) { value, err = parseValue(body.Value); return },
	)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := program.Renew(r.Context(), referral.Call{From: caller, Value: value}, req); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": req.Name})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	program, caller, err := s.authorised(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body struct {
		Amount string `json:"amount"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := parseValue(body.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := program.Deposit(r.Context(), caller, amount); err != nil {
		s.fail(w, r, err)
		return
	}
	balance, err := program.Balance()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": balance.Dec()})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	program, caller, err := s.authorised(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body struct {
		To string `json:"to"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	to, err := parseAddress(body.To, "to", true)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := program.Close(r.Context(), caller, to)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"to": to.Hex(), "amount": amount.Dec()})
}

func (s *Server) handleAllowlist(w http.ResponseWriter, r *http.Request) {
	program, caller, err := s.authorised(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body struct {
		Root    string   `json:"root"`
		Members []string `json:"members"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	var root common.Hash
	switch {
	case len(body.Members) > 0 && body.Root != "":
		s.fail(w, r, fmt.Errorf("%w: set either root or members", errBadRequest))
		return
	case len(body.Members) > 0:
		addrs := make([]common.Address, len(body.Members))
		for i, m := range body.Members {
			if addrs[i], err = parseAddress(m, "member", true); err != nil {
				s.fail(w, r, err)
				return
			}
		}
		tree, err := merkle.NewTree(addrs)
		if err != nil {
			s.fail(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
		root = tree.Root()
	default:
		if root, err = parseHash(body.Root); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	if err := program.UpdateAllowlistRoot(r.Context(), caller, root); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"root": root.Hex()})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	program, caller, err := s.authorised(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body struct {
		To string `json:"to"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	to, err := parseAddress(body.To, "to", false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := program.Withdraw(r.Context(), caller, to)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": amount.Dec()})
}

func (s *Server) program(r *http.Request) (*referral.Program, error) {
	id := chi.URLParam(r, "id")
	program, ok := s.app.Program(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownProgram, id)
	}
	return program, nil
}

func (s *Server) authorised(r *http.Request) (*referral.Program, common.Address, error) {
	program, err := s.program(r)
	if err != nil {
		return nil, common.Address{}, err
	}
	caller, ok := CallerFrom(r.Context())
	if !ok {
		return nil, common.Address{}, referral.ErrUnauthorized
	}
	return program, caller, nil
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("request_id", RequestIDFrom(r.Context())),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}
	writeError(w, status, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errUnknownProgram), errors.Is(err, registrar.ErrNotRegistered):
		return http.StatusNotFound
	case errors.Is(err, referral.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, referral.ErrInsufficientValue), errors.Is(err, bank.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, errBadRequest),
		errors.Is(err, referral.ErrMalformedProof),
		errors.Is(err, referral.ErrInvalidRecipient),
		errors.Is(err, referral.ErrInvalidRate),
		errors.Is(err, registrar.ErrInvalidName),
		errors.Is(err, registrar.ErrDurationTooShort),
		errors.Is(err, registrar.ErrInvalidOwner),
		errors.Is(err, registrar.ErrWrongPayment),
		errors.Is(err, registrar.ErrPriceOverflow),
		errors.Is(err, registrar.ErrExpiryOverflow):
		return http.StatusBadRequest
	case errors.Is(err, registrar.ErrUnavailable),
		errors.Is(err, referral.ErrAllowlistDisabled),
		errors.Is(err, referral.ErrNothingToWithdraw),
		errors.Is(err, referral.ErrRefundFailed),
		errors.Is(err, referral.ErrPayoutFailed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: decode body: %v", errBadRequest, err)
	}
	return nil
}

func pathAddress(r *http.Request, param string) (common.Address, error) {
	return parseAddress(chi.URLParam(r, param), param, true)
}

func parseAddress(raw, field string, required bool) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if required {
			return common.Address{}, fmt.Errorf("%w: %s required", errBadRequest, field)
		}
		return common.Address{}, nil
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%w: %s %q is not an address", errBadRequest, field, raw)
	}
	return common.HexToAddress(raw), nil
}

func parseHash(raw string) (common.Hash, error) {
	b, err := parseHex(raw, "hash")
	if err != nil {
		return common.Hash{}, err
	}
	if len(b) != 0 && len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: hash must be %d bytes", errBadRequest, common.HashLength)
	}
	return common.BytesToHash(b), nil
}

func parseFlags(raw string) (registrar.Flags, error) {
	var flags registrar.Flags
	b, err := parseHex(raw, "flags")
	if err != nil {
		return flags, err
	}
	if len(b) > len(flags) {
		return flags, fmt.Errorf("%w: flags exceed %d bytes", errBadRequest, len(flags))
	}
	copy(flags[len(flags)-len(b):], b)
	return flags, nil
}

func parseHex(raw, field string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	b, err := hexutil.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errBadRequest, field, err)
	}
	return b, nil
}

func parseValue(raw string) (*uint256.Int, error) {
	amount, err := parseAmount(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return amount, nil
}

func firstError(steps ...func() error) error {
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
