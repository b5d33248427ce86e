package api

import (
	"sort"
	"strings"
)

// CategorySeparator joins a parent category and a subcategory.
const CategorySeparator = " > "

// CategoryOther is the fallback for labels outside the taxonomy.
const CategoryOther = "Other"

// Taxonomy maps each top-level category to its allowed subcategories.
var Taxonomy = map[string][]string{
	"Groceries":         {"Produce", "Dairy", "Meat & Seafood", "Bakery", "Beverages", "Snacks", "Household Supplies"},
	"Dining":            {"Restaurants", "Coffee Shops", "Fast Food", "Bars", "Delivery"},
	"Transportation":    {"Fuel", "Public Transit", "Rideshare", "Parking", "Tolls"},
	"Shopping":          {"Clothing", "Electronics", "Home Goods", "Books", "Hobbies"},
	"Entertainment":     {"Movies", "Music", "Games", "Events", "Streaming"},
	"Health":            {"Pharmacy", "Medical", "Fitness"},
	"Utilities":         {"Electricity", "Water", "Internet", "Phone"},
	"Housing":           {"Rent", "Maintenance", "Furniture"},
	"Travel":            {"Flights", "Lodging", "Car Rental"},
	"Personal Care":     {"Hair", "Cosmetics", "Toiletries"},
	"Education":         {"Tuition", "Supplies"},
	"Gifts & Donations": {"Gifts", "Charity"},
	"Fees":              {"Bank Fees", "Service Charges"},
	CategoryOther:       {},
}

// IsGranularCategory reports whether label names a subcategory.
func IsGranularCategory(label string) bool {
	return strings.Contains(label, CategorySeparator)
}

// ParentCategory returns the top-level part of a label.
func ParentCategory(label string) string {
	parent, _, _ := strings.Cut(label, CategorySeparator)
	return strings.TrimSpace(parent)
}

// NormalizeCategory maps a free-form label onto the taxonomy using a
// case-insensitive comparison. Unknown labels become CategoryOther.
// A valid parent with an unknown subcategory keeps the parent only.
func NormalizeCategory(label string) string {
	parentPart, childPart, hasChild := strings.Cut(label, ">")
	parent, ok := lookupFold(TopLevelCategories(), parentPart)
	if !ok {
		return CategoryOther
	}
	if !hasChild {
		return parent
	}
	child, ok := lookupFold(Taxonomy[parent], childPart)
	if !ok {
		return parent
	}
	return parent + CategorySeparator + child
}

// CategoryWithin reports whether label equals want or is nested under it.
func CategoryWithin(label, want string) bool {
	label = strings.ToLower(strings.TrimSpace(label))
	want = strings.ToLower(strings.TrimSpace(want))
	if label == want {
		return true
	}
	return strings.HasPrefix(label, want+strings.ToLower(CategorySeparator))
}

// TopLevelCategories returns the parent categories in sorted order.
func TopLevelCategories() []string {
	out := make([]string, 0, len(Taxonomy))
	for name := range Taxonomy {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// CategoryLabels returns every valid label, parents and "Parent > Child" pairs.
func CategoryLabels() []string {
	var out []string
	for _, parent := range TopLevelCategories() {
		out = append(out, parent)
		for _, child := range Taxonomy[parent] {
			out = append(out, parent+CategorySeparator+child)
		}
	}
	return out
}

func lookupFold(candidates []string, name string) (string, bool) {
	name = strings.TrimSpace(name)
	for _, c := range candidates {
		if strings.EqualFold(c, name) {
			return c, true
		}
	}
	return "", false
}
