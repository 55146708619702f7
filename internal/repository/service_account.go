package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/opsdeck/authz-module/internal/domain/model"
)

// ServiceAccountRepository — интерфейс CRUD для таблицы service_accounts.
type ServiceAccountRepository interface {
	// Create создаёт новый сервисный аккаунт.
	Create(ctx context.Context, sa *model.ServiceAccount) error
	// GetByID возвращает сервисный аккаунт по UUID.
	GetByID(ctx context.Context, id string) (*model.ServiceAccount, error)
	// GetByName возвращает сервисный аккаунт по имени.
	GetByName(ctx context.Context, name string) (*model.ServiceAccount, error)
	// List возвращает все сервисные аккаунты.
	List(ctx context.Context) ([]*model.ServiceAccount, error)
	// Update обновляет сервисный аккаунт.
	Update(ctx context.Context, sa *model.ServiceAccount) error
	// Delete удаляет сервисный аккаунт.
	Delete(ctx context.Context, id string) error
}

// serviceAccountRepo — реализация ServiceAccountRepository.
type serviceAccountRepo struct {
	db DBTX
}

// NewServiceAccountRepository создаёт репозиторий сервисных аккаунтов.
func NewServiceAccountRepository(db DBTX) ServiceAccountRepository {
	return &serviceAccountRepo{db: db}
}

const saColumns = `id, name, description, roles, created_at, updated_at`

// scanServiceAccount сканирует строку результата в модель ServiceAccount.
func scanServiceAccount(row pgx.Row) (*model.ServiceAccount, error) {
	sa := &model.ServiceAccount{}
	err := row.Scan(&sa.ID, &sa.Name, &sa.Description, &sa.Roles, &sa.CreatedAt, &sa.UpdatedAt)
	return sa, err
}

func (r *serviceAccountRepo) Create(ctx context.Context, sa *model.ServiceAccount) error {
	query := `
		INSERT INTO service_accounts (id, name, description, roles)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query, sa.ID, sa.Name, sa.Description, sa.Roles).
		Scan(&sa.CreatedAt, &sa.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: сервисный аккаунт с таким именем уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка создания сервисного аккаунта: %w", err)
	}
	return nil
}

func (r *serviceAccountRepo) GetByID(ctx context.Context, id string) (*model.ServiceAccount, error) {
	query := fmt.Sprintf(`SELECT %s FROM service_accounts WHERE id = $1`, saColumns)
	sa, err := scanServiceAccount(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения сервисного аккаунта: %w", err)
	}
	return sa, nil
}

func (r *serviceAccountRepo) GetByName(ctx context.Context, name string) (*model.ServiceAccount, error) {
	query := fmt.Sprintf(`SELECT %s FROM service_accounts WHERE name = $1`, saColumns)
	sa, err := scanServiceAccount(r.db.QueryRow(ctx, query, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения сервисного аккаунта по имени: %w", err)
	}
	return sa, nil
}

func (r *serviceAccountRepo) List(ctx context.Context) ([]*model.ServiceAccount, error) {
	query := fmt.Sprintf(`SELECT %s FROM service_accounts ORDER BY name`, saColumns)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка сервисных аккаунтов: %w", err)
	}
	defer rows.Close()

	var result []*model.ServiceAccount
	for rows.Next() {
		sa := &model.ServiceAccount{}
		if err := rows.Scan(&sa.ID, &sa.Name, &sa.Description, &sa.Roles, &sa.CreatedAt, &sa.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования сервисного аккаунта: %w", err)
		}
		result = append(result, sa)
	}
	return result, rows.Err()
}

func (r *serviceAccountRepo) Update(ctx context.Context, sa *model.ServiceAccount) error {
	query := `
		UPDATE service_accounts
		SET name = $2, description = $3, roles = $4, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query, sa.ID, sa.Name, sa.Description, sa.Roles).Scan(&sa.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: имя уже занято", ErrConflict)
		}
		return fmt.Errorf("ошибка обновления сервисного аккаунта: %w", err)
	}
	return nil
}

func (r *serviceAccountRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM service_accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления сервисного аккаунта: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ServiceAccountCascade — удаление сервисного аккаунта вместе с его
// сохранённым профилем авторизации в одной транзакции.
type ServiceAccountCascade struct {
	runner *TxRunner
}

// NewServiceAccountCascade создаёт каскадное удаление сервисных аккаунтов.
func NewServiceAccountCascade(runner *TxRunner) *ServiceAccountCascade {
	return &ServiceAccountCascade{runner: runner}
}

// DeleteWithProfile удаляет аккаунт id и профиль profileID атомарно:
// при ошибке транзакция откатывается и аккаунт остаётся.
// Отсутствие профиля ошибкой не считается.
func (c *ServiceAccountCascade) DeleteWithProfile(ctx context.Context, id, profileID string) error {
	return c.runner.RunInTx(ctx, func(tx pgx.Tx) error {
		if err := NewServiceAccountRepository(tx).Delete(ctx, id); err != nil {
			return err
		}
		if err := NewUserPermissionRepository(tx).Remove(ctx, profileID); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		return nil
	})
}
