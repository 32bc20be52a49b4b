package i18n

import "net/http"

// Middleware injects a localizer into every request context. The "lang"
// query parameter overrides the default language.
func Middleware(lang string) func(http.Handler) http.Handler {
	loc := NewLocalizer(lang)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l := loc
			if q := r.URL.Query().Get("lang"); q != "" {
				l = NewLocalizer(q, lang)
			}
			ctx := WithLocalizer(r.Context(), l)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
