package domain

// Role — роль аутентифицированного пользователя.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Principal — пользователь, от имени которого выполняется операция.
// Передаётся в контроллер явно, скрытых чтений контекста нет.
type Principal struct {
	ID   string
	Role Role
}

// IsAdmin сообщает, обладает ли пользователь правами администратора.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// Owns проверяет владение ресурсом. Администратор имеет доступ ко всем заказам.
func (p Principal) Owns(ownerID string) bool {
	return p.IsAdmin() || (p.ID != "" && p.ID == ownerID)
}
