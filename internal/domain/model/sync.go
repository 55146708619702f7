package model

import "time"

// SyncState — состояние синхронизации профилей (одна строка в БД, id = 1).
type SyncState struct {
	// ID — всегда 1
	ID int
	// LastRoleSyncAt — время последней bulk-синхронизации профилей
	LastRoleSyncAt *time.Time
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// RoleSyncResult — результат bulk-синхронизации профилей авторизации.
type RoleSyncResult struct {
	// Total — количество identity, попавших в batch после фильтрации
	Total int
	// Synced — количество успешно пересчитанных и сохранённых профилей
	Synced int
	// Failed — количество identity, чей resolve или put завершился ошибкой
	Failed int
	// SyncedAt — время синхронизации
	SyncedAt time.Time
}
