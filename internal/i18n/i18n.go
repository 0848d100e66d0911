package i18n

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// catalogs 按 locale 注册的覆盖目录，英文是兜底目录不在其中
// catalogs maps a locale to its overlay catalog. English is the
// fallback and is not registered here.
var catalogs = map[string]map[string]string{
	"zh-CN": ZhCNMessages,
}

// I18n 按 locale 查找消息，未覆盖的 key 回退到英文
// I18n resolves messages for one locale, falling back to English
// for keys the overlay does not cover.
type I18n struct {
	locale  string
	overlay map[string]string
}

var (
	global     *I18n
	globalOnce sync.Once
)

// Global 返回全局 i18n 实例
// Global returns the global i18n instance
func Global() *I18n {
	globalOnce.Do(func() {
		global = New("")
	})
	return global
}

// Init 初始化全局 i18n 实例
// Init initializes the global i18n instance
func Init(locale string) {
	global = New(locale)
}

// T 全局翻译快捷函数
// T is a global translation shortcut
func T(key string, args ...any) string {
	return Global().T(key, args...)
}

// New 创建 i18n 实例，空 locale 时从环境变量检测
// New creates an i18n instance. An empty locale is detected from
// the environment.
func New(locale string) *I18n {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		locale = DetectLocale()
	}
	locale = normalizeLocale(locale)
	return &I18n{locale: locale, overlay: catalogs[locale]}
}

// T 翻译函数 / Translation function
func (i *I18n) T(key string, args ...any) string {
	tmpl, ok := i.overlay[key]
	if !ok {
		if tmpl, ok = EnMessages[key]; !ok {
			return key
		}
	}
	if len(args) == 0 {
		return tmpl
	}
	return fmt.Sprintf(tmpl, args...)
}

// Locale 返回当前 locale
// Locale returns current locale
func (i *I18n) Locale() string {
	return i.locale
}

// DetectLocale 自动检测 locale
// DetectLocale auto-detects locale from environment
func DetectLocale() string {
	for _, env := range []string{"GEMINICHAT_LANG", "LANG", "LC_ALL", "LC_MESSAGES"} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return normalizeLocale(v)
		}
	}
	return "en"
}

// normalizeLocale 折叠编码后缀和区域变体，例如 zh_TW.UTF-8 -> zh-CN
// normalizeLocale collapses encoding suffixes and regional variants,
// e.g. zh_TW.UTF-8 becomes zh-CN.
func normalizeLocale(s string) string {
	s, _, _ = strings.Cut(strings.TrimSpace(s), ".")
	if s == "" {
		return "en"
	}
	s = strings.ReplaceAll(s, "_", "-")
	switch lang, _, _ := strings.Cut(strings.ToLower(s), "-"); lang {
	case "zh":
		return "zh-CN"
	case "en":
		return "en"
	}
	return s
}
