// Пакет rbac — определение роли вызывающего по группам из JWT.
// Две роли: user (любой аутентифицированный) и admin (члены админских групп).
// Администратор управляет фиксированными расширениями и настройками реестра.
package rbac

// Роли в порядке возрастания привилегий.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// roleWeight — вес роли для сравнения.
var roleWeight = map[string]int{
	RoleUser:  1,
	RoleAdmin: 2,
}

// MapGroupsToRole определяет роль по группам IdP.
// Совпадение хотя бы одной группы с adminGroups даёт admin, иначе user.
func MapGroupsToRole(groups []string, adminGroups []string) string {
	adminSet := toSet(adminGroups)
	for _, g := range groups {
		if adminSet[g] {
			return RoleAdmin
		}
	}
	return RoleUser
}

// HasAtLeast проверяет, что роль role не ниже required.
// Неизвестная роль не проходит ни одну проверку.
func HasAtLeast(role, required string) bool {
	w, ok := roleWeight[role]
	if !ok {
		return false
	}
	return w >= roleWeight[required]
}

// IsValidRole проверяет, является ли строка допустимой ролью.
func IsValidRole(role string) bool {
	_, ok := roleWeight[role]
	return ok
}

func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, item := range items {
		s[item] = true
	}
	return s
}
