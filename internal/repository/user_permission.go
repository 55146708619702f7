package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/opsdeck/authz-module/internal/domain/model"
)

// UserPermissionRepository — хранилище профилей авторизации.
// Put перезаписывает профиль целиком (last-writer-wins по id);
// репозиторий безопасен для конкурентных вызовов.
type UserPermissionRepository interface {
	// Put сохраняет профиль, перезаписывая существующий.
	Put(ctx context.Context, up *model.UserPermission) error
	// Get возвращает профиль по id.
	Get(ctx context.Context, id string) (*model.UserPermission, error)
	// Remove удаляет профиль по id.
	Remove(ctx context.Context, id string) error
	// GetAllByID возвращает все сохранённые профили, ключ — id.
	GetAllByID(ctx context.Context) (map[string]*model.UserPermission, error)
}

// userPermissionRepo — реализация UserPermissionRepository.
type userPermissionRepo struct {
	db DBTX
}

// NewUserPermissionRepository создаёт репозиторий профилей авторизации.
func NewUserPermissionRepository(db DBTX) UserPermissionRepository {
	return &userPermissionRepo{db: db}
}

func (r *userPermissionRepo) Put(ctx context.Context, up *model.UserPermission) error {
	roles, err := json.Marshal(up.Roles)
	if err != nil {
		return fmt.Errorf("сериализация ролей профиля: %w", err)
	}
	resources, err := json.Marshal(up.Resources)
	if err != nil {
		return fmt.Errorf("сериализация ресурсов профиля: %w", err)
	}

	query := `
		INSERT INTO user_permissions (id, is_admin, roles, resources)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET is_admin = EXCLUDED.is_admin,
			roles = EXCLUDED.roles,
			resources = EXCLUDED.resources,
			updated_at = now()`

	if _, err := r.db.Exec(ctx, query, up.ID, up.IsAdmin, roles, resources); err != nil {
		return fmt.Errorf("ошибка сохранения профиля %s: %w", up.ID, err)
	}
	return nil
}

func (r *userPermissionRepo) Get(ctx context.Context, id string) (*model.UserPermission, error) {
	query := `SELECT id, is_admin, roles, resources FROM user_permissions WHERE id = $1`

	up, err := scanUserPermission(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения профиля %s: %w", id, err)
	}
	return up, nil
}

func (r *userPermissionRepo) Remove(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM user_permissions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления профиля %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userPermissionRepo) GetAllByID(ctx context.Context) (map[string]*model.UserPermission, error) {
	rows, err := r.db.Query(ctx, `SELECT id, is_admin, roles, resources FROM user_permissions`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения профилей: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*model.UserPermission)
	for rows.Next() {
		up, err := scanUserPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования профиля: %w", err)
		}
		result[up.ID] = up
	}
	return result, rows.Err()
}

// scanUserPermission сканирует строку результата в модель UserPermission.
// Роли и ресурсы хранятся как JSONB.
func scanUserPermission(row pgx.Row) (*model.UserPermission, error) {
	up := &model.UserPermission{}
	var roles, resources []byte

	if err := row.Scan(&up.ID, &up.IsAdmin, &roles, &resources); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(roles, &up.Roles); err != nil {
		return nil, fmt.Errorf("декодирование ролей профиля %s: %w", up.ID, err)
	}
	if err := json.Unmarshal(resources, &up.Resources); err != nil {
		return nil, fmt.Errorf("декодирование ресурсов профиля %s: %w", up.ID, err)
	}
	return up, nil
}
