package domain

type Permission struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Category string `json:"category"`
}

const (
	PermDashboardView   = "dashboard.view"
	PermReportsView     = "reports.view"
	PermPOSAccess       = "pos.access"
	PermProductsView    = "products.view"
	PermProductsAdd     = "products.add"
	PermProductsEdit    = "products.edit"
	PermProductsDelete  = "products.delete"
	PermSalesView       = "sales.view"
	PermSalesReturn     = "sales.return"
	PermOffersView      = "offers.view"
	PermOffersManage    = "offers.manage"
	PermExpensesView    = "expenses.view"
	PermExpensesManage  = "expenses.manage"
	PermSuppliersManage = "suppliers.manage"
	PermCustomersManage = "customers.manage"
	PermStaffManage     = "staff.manage"
	PermSettingsManage  = "settings.manage"
)

var AllPermissions = []Permission{
	{ID: PermDashboardView, Label: "View dashboard", Category: "Dashboard"},
	{ID: PermReportsView, Label: "View reports", Category: "Dashboard"},
	{ID: PermPOSAccess, Label: "Use the point of sale", Category: "POS"},
	{ID: PermProductsView, Label: "View products and stock", Category: "Products"},
	{ID: PermProductsAdd, Label: "Add products", Category: "Products"},
	{ID: PermProductsEdit, Label: "Edit products and prices", Category: "Products"},
	{ID: PermProductsDelete, Label: "Delete products", Category: "Products"},
	{ID: PermSalesView, Label: "View sales history", Category: "Sales"},
	{ID: PermSalesReturn, Label: "Process returns", Category: "Sales"},
	{ID: PermOffersView, Label: "View offers and discounts", Category: "Offers"},
	{ID: PermOffersManage, Label: "Manage offers and discounts", Category: "Offers"},
	{ID: PermExpensesView, Label: "View expenses", Category: "Expenses"},
	{ID: PermExpensesManage, Label: "Manage expenses", Category: "Expenses"},
	{ID: PermSuppliersManage, Label: "Manage suppliers", Category: "Suppliers"},
	{ID: PermCustomersManage, Label: "Manage customers and debts", Category: "Customers"},
	{ID: PermStaffManage, Label: "Manage staff", Category: "Staff"},
	{ID: PermSettingsManage, Label: "General settings", Category: "Settings"},
}

// AllPermissionIDs lists every permission identifier in catalog order.
func AllPermissionIDs() []string {
	ids := make([]string, 0, len(AllPermissions))
	for _, p := range AllPermissions {
		ids = append(ids, p.ID)
	}
	return ids
}

// Can reports whether the user holds the permission. Admins hold all of them
// regardless of their explicit list.
func (u User) Can(permissionID string) bool {
	if u.Role == RoleAdmin {
		return true
	}
	for _, p := range u.Permissions {
		if p == permissionID {
			return true
		}
	}
	return false
}

func IsValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleManager, RoleCashier:
		return true
	}
	return false
}
