package model

import "time"

// ServiceAccount — сервисный аккаунт платформы.
// Хранится в таблице service_accounts. Роли задаются явно (EXPLICIT),
// во внешнем Identity Provider сервисные аккаунты не ищутся.
type ServiceAccount struct {
	// ID — UUID записи
	ID string
	// Name — имя аккаунта, уникальное в пределах платформы (ключ ресурса)
	Name string
	// Description — описание (опционально)
	Description *string
	// Roles — роли, членство в которых открывает доступ к аккаунту
	Roles []string
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}
