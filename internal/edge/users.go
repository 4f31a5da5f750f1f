// Package edge is a demo edge service built on the envelope stack: its
// handlers return values or errors and the server boundary turns both into
// envelopes.
package edge

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tjfontaine/envelope-gateway/internal/apierror"
	"github.com/tjfontaine/envelope-gateway/internal/domain"
	"github.com/tjfontaine/envelope-gateway/internal/response"
	"github.com/tjfontaine/envelope-gateway/internal/server"
)

// ExportFilename is the attachment name of the user export.
const ExportFilename = "users.json"

// User is a registered user.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Age       int       `json:"age"`
	CreatedAt time.Time `json:"createdAt"`
}

type registerRequest struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone" validate:"required,numeric,len=11"`
	Age   int    `json:"age" validate:"min=18"`
}

// Users keeps registered users in memory, keyed by phone.
type Users struct {
	logger   *slog.Logger
	validate *validator.Validate

	mu      sync.RWMutex
	byPhone map[string]*User
}

// NewUsers creates an empty user registry.
func NewUsers(logger *slog.Logger) *Users {
	if logger == nil {
		logger = slog.Default()
	}
	return &Users{
		logger:   logger,
		validate: apierror.NewValidator(),
		byPhone:  make(map[string]*User),
	}
}

// Routes mounts the user API on r. Handlers fail into s.
func (u *Users) Routes(r chi.Router, s *server.Server) {
	b := s.Binder()

	r.Post("/users", b.Format(u.register))
	r.Get("/users/export", b.Bind(u.export))
	r.Get("/users/{phone}", b.Format(u.get))
	r.Get("/login", b.Format(u.login))
}

func (u *Users) register(w http.ResponseWriter, r *http.Request) (any, error) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, domain.NewBindError("register",
			domain.FieldError{Field: "body", Message: "must be a JSON object"})
	}
	if err := apierror.BindValidated(u.validate, "register", &req); err != nil {
		return nil, err
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	_, taken := u.byPhone[req.Phone]
	if err := domain.Ensure(!taken, domain.CodePhoneAlreadyExists); err != nil {
		return nil, err
	}

	user := &User{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
		Age:       req.Age,
		CreatedAt: time.Now().UTC(),
	}
	u.byPhone[user.Phone] = user

	server.AddLogField(r.Context(), "user_id", user.ID)
	u.logger.InfoContext(r.Context(), "user registered", slog.String("user_id", user.ID))
	return user, nil
}

func (u *Users) get(w http.ResponseWriter, r *http.Request) (any, error) {
	u.mu.RLock()
	user := u.byPhone[chi.URLParam(r, "phone")]
	u.mu.RUnlock()

	if err := domain.NotNil(user, domain.CodeResourceNotFound); err != nil {
		return nil, err
	}
	return user, nil
}

func (u *Users) export(w http.ResponseWriter, r *http.Request) (any, error) {
	u.mu.RLock()
	users := make([]*User, 0, len(u.byPhone))
	for _, user := range u.byPhone {
		users = append(users, user)
	}
	u.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool {
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})

	err := response.WriteAttachment(w, r, ExportFilename, domain.Success(users))
	switch {
	case errors.Is(err, response.ErrCommitted):
		// The download already started; a second status would corrupt it.
		u.logger.WarnContext(r.Context(), "user export interrupted", slog.String("error", err.Error()))
		server.AddError(r.Context(), err)
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("export users: %w", err)
	}
	return nil, nil
}

// errCredentials is the cause of every rejected login; the demo has no
// credential store.
var errCredentials = errors.New("credentials rejected")

func (u *Users) login(w http.ResponseWriter, r *http.Request) (any, error) {
	q := r.URL.Query()

	var violations []domain.ConstraintViolation
	for _, name := range []string{"username", "password"} {
		if q.Get(name) == "" {
			violations = append(violations, domain.ConstraintViolation{
				PropertyPath:    "login." + name,
				MessageTemplate: "must not be empty",
			})
		}
	}
	if len(violations) > 0 {
		return nil, domain.NewConstraintViolationError(violations...)
	}

	server.AddLogField(r.Context(), "error", errCredentials.Error())
	return nil, domain.Business(domain.CodeUsernameOrPasswordError)
}
