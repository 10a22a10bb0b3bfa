package postgres

import "time"

func variantValue(variantID *string) string {
	if variantID == nil {
		return ""
	}
	return *variantID
}

func variantPtr(value string) *string {
	if value == "" {
		return nil
	}
	v := value
	return &v
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
