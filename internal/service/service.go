// Package service реализует бизнес-логику панели: размещение заказов, сверку с провайдером и сводку.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/smm-panel/internal/events"
	"github.com/mmeshcher/smm-panel/internal/model"
	"github.com/mmeshcher/smm-panel/internal/pricing"
	"github.com/mmeshcher/smm-panel/internal/provider"
	"github.com/mmeshcher/smm-panel/internal/repository"
)

// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	CreateUser(ctx context.Context, login, name string, passwordHash []byte, role model.Role) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
	Credit(ctx context.Context, userID int64, sum decimal.Decimal, kind model.TransactionType, description string) (*model.Transaction, error)
	ListTransactions(ctx context.Context, userID int64, limit int) ([]model.Transaction, error)
	CountUsersByRole(ctx context.Context) (map[model.Role]int64, error)

	CreateIntent(ctx context.Context, in model.OrderIntent) error
	ResolveIntent(ctx context.Context, key string, status model.IntentStatus, providerOrderID, reason string) error
	FinalizeOrder(ctx context.Context, key, providerOrderID string) (*model.Order, *model.Transaction, error)
	GetIntent(ctx context.Context, key string) (*model.OrderIntent, error)
	ListOpenIntents(ctx context.Context, limit int) ([]model.OrderIntent, error)
	CountOpenIntents(ctx context.Context) (int64, error)

	GetOrder(ctx context.Context, userID, orderID int64) (*model.Order, error)
	GetOrdersByIDs(ctx context.Context, userID int64, ids []int64) ([]model.Order, error)
	ListOrdersByUser(ctx context.Context, userID int64, page, limit int) ([]model.Order, int64, error)
	UpdateOrderProgress(ctx context.Context, orderID int64, expected, status model.OrderStatus, startCount, remains *int64) error
	UpdateOrderCancel(ctx context.Context, orderID int64, expected, status model.OrderStatus, cancelError string) error
	OrderTotals(ctx context.Context) (model.OrderTotals, error)

	CreateRefill(ctx context.Context, rf model.Refill) (*model.Refill, error)
	GetRefill(ctx context.Context, userID int64, refillID string) (*model.Refill, error)
	UpdateRefillStatus(ctx context.Context, userID int64, refillID, status string) (bool, error)
}

// Gateway описывает API провайдера услуг.
type Gateway interface {
	Services(ctx context.Context) ([]model.Service, error)
	PlaceOrder(ctx context.Context, serviceID int64, link string, quantity int64) (string, error)
	OrderStatus(ctx context.Context, providerOrderID string) (*provider.StatusReport, error)
	CancelOrders(ctx context.Context, providerOrderIDs []string) ([]provider.CancelResult, error)
	CreateRefill(ctx context.Context, providerOrderID string) (string, error)
	CreateRefills(ctx context.Context, providerOrderIDs []string) ([]provider.RefillResult, error)
	RefillStatus(ctx context.Context, refillID string) (string, error)
	RefillStatuses(ctx context.Context, refillIDs []string) ([]provider.RefillStatusResult, error)
	Balance(ctx context.Context) (*provider.Balance, error)
}

// Publisher отправляет события во внешнюю шину.
type Publisher interface {
	Publish(ctx context.Context, e events.Event) error
}

// Guard отсекает повторные запросы с одним ключом идемпотентности.
type Guard interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Service содержит бизнес-логику панели.
type Service struct {
	repo      Repository
	gateway   Gateway
	resolver  *pricing.Resolver
	publisher Publisher
	guard     Guard
	logger    *zap.Logger
	newKey    func() string
}

// NewService создаёт сервис. publisher и guard могут быть nil.
func NewService(repo Repository, gateway Gateway, publisher Publisher, guard Guard, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = events.NewPublisher(nil, logger)
	}
	return &Service{
		repo:      repo,
		gateway:   gateway,
		resolver:  pricing.NewResolver(gateway),
		publisher: publisher,
		guard:     guard,
		logger:    logger,
		newKey:    uuid.NewString,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя с ролью user.
func (s *Service) RegisterUser(ctx context.Context, login, name, password string) (int64, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return 0, fmt.Errorf("%w: login and password are required", model.ErrInvalidArgument)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}

	id, err := s.repo.CreateUser(ctx, login, strings.TrimSpace(name), hashed, model.RoleUser)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return 0, repository.ErrUserExists
		}
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет логин и пароль пользователя и возвращает его идентификатор.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (int64, error) {
	u, err := s.repo.GetUserByLogin(ctx, strings.TrimSpace(login))
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return 0, ErrInvalidCredentials
		}
		return 0, err
	}

	if bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)) != nil {
		return 0, ErrInvalidCredentials
	}

	return u.ID, nil
}

// UserRole возвращает роль пользователя.
func (s *Service) UserRole(ctx context.Context, userID int64) (model.Role, error) {
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	return u.Role, nil
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn("failed to publish event", zap.String("subject", e.Subject), zap.Error(err))
	}
}
