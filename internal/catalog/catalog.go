// Package catalog хранит локализованные IVR-сценарии и шаблоны уведомлений.
package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/template"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
)

// Ключи шаблонов.
const (
	KeyGreeting    = "ivr.greeting"
	KeySummary     = "ivr.summary"
	KeyItems       = "ivr.items"
	KeyAddress     = "ivr.address"
	KeyQuestion    = "ivr.question"
	KeyConfirmed   = "ivr.confirmed"
	KeyCancelled   = "ivr.cancelled"
	KeyUnclear     = "ivr.unclear"
	KeySMSTransit  = "sms.in_transit"
	KeyChatTransit = "chat.in_transit"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type fileFormat struct {
	DefaultLocale string                `yaml:"default_locale"`
	Locales       map[string]localeSpec `yaml:"locales"`
}

type localeSpec struct {
	Tag         string            `yaml:"tag"`
	SayLanguage string            `yaml:"say_language"`
	Voice       string            `yaml:"voice"`
	Countries   []string          `yaml:"countries"`
	Templates   map[string]string `yaml:"templates"`
}

// Locale содержит настройки одной локали.
type Locale struct {
	Code        string
	Tag         language.Tag
	SayLanguage string
	Voice       string

	templates map[string]*template.Template
	printer   *message.Printer
}

// Catalog хранит локали и правила определения языка по стране.
type Catalog struct {
	defaultLocale string
	locales       map[string]*Locale
	countries     map[string]string
}

// Item описывает позицию заказа для шаблона.
type Item struct {
	Name string
	Qty  int32
}

// Data содержит данные, подставляемые в шаблоны.
type Data struct {
	CustomerName   string
	StoreName      string
	OrderNumber    string
	ItemCount      int
	Items          []Item
	Amount         string
	Address        string
	TrackingNumber string
}

// Load разбирает встроенный каталог.
func Load() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// LoadFile разбирает каталог из файла (переопределение встроенного).
func LoadFile(path string) (*Catalog, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	c, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", path, err)
	}
	return c, nil
}

// Parse разбирает YAML и компилирует шаблоны.
func Parse(data []byte) (*Catalog, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("catalog: payload is empty")
	}

	var raw fileFormat
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	if len(raw.Locales) == 0 {
		return nil, fmt.Errorf("catalog: no locales defined")
	}

	c := &Catalog{
		defaultLocale: strings.ToLower(strings.TrimSpace(raw.DefaultLocale)),
		locales:       make(map[string]*Locale, len(raw.Locales)),
		countries:     make(map[string]string),
	}

	for code, spec := range raw.Locales {
		code = strings.ToLower(strings.TrimSpace(code))
		tag, err := language.Parse(firstNonEmpty(spec.Tag, code))
		if err != nil {
			return nil, fmt.Errorf("catalog: locale %s: parse tag: %w", code, err)
		}

		loc := &Locale{
			Code:        code,
			Tag:         tag,
			SayLanguage: firstNonEmpty(spec.SayLanguage, tag.String()),
			Voice:       spec.Voice,
			templates:   make(map[string]*template.Template, len(spec.Templates)),
			printer:     message.NewPrinter(tag),
		}
		for key, body := range spec.Templates {
			tmpl, err := template.New(code + "/" + key).Option("missingkey=zero").Parse(body)
			if err != nil {
				return nil, fmt.Errorf("catalog: locale %s: template %s: %w", code, key, err)
			}
			loc.templates[key] = tmpl
		}
		for _, country := range spec.Countries {
			c.countries[normalizeCountry(country)] = code
		}
		c.locales[code] = loc
	}

	if _, ok := c.locales[c.defaultLocale]; !ok {
		return nil, fmt.Errorf("catalog: default locale %q is not defined", raw.DefaultLocale)
	}
	return c, nil
}

// DefaultLocale возвращает базовую локаль.
func (c *Catalog) DefaultLocale() string {
	return c.defaultLocale
}

// Codes возвращает коды локалей в алфавитном порядке.
func (c *Catalog) Codes() []string {
	codes := make([]string, 0, len(c.locales))
	for code := range c.locales {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// DetectLocale определяет язык клиента по стране доставки без учёта регистра.
func (c *Catalog) DetectLocale(country string) string {
	if code, ok := c.countries[normalizeCountry(country)]; ok {
		return code
	}
	return c.defaultLocale
}

// Locale возвращает локаль по коду; неизвестный код даёт базовую локаль.
func (c *Catalog) Locale(code string) *Locale {
	if loc, ok := c.locales[strings.ToLower(strings.TrimSpace(code))]; ok {
		return loc
	}
	return c.locales[c.defaultLocale]
}

// Render подставляет данные в шаблон локали.
func (c *Catalog) Render(code, key string, data Data) (string, error) {
	return c.Locale(code).Render(key, data)
}

// Render подставляет данные в шаблон. На отсутствующий ключ возвращает ErrTemplateNotFound.
func (l *Locale) Render(key string, data Data) (string, error) {
	tmpl, ok := l.templates[key]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", domain.ErrTemplateNotFound, l.Code, key)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s/%s: %w", l.Code, key, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// FormatAmount форматирует сумму в минимальных единицах по правилам локали.
func (l *Locale) FormatAmount(amountMinor int64, currency string) string {
	return strings.TrimSpace(l.printer.Sprintf("%.2f %s", float64(amountMinor)/100, strings.ToUpper(currency)))
}

// OrderData собирает данные шаблона из заказа и клиента.
func (l *Locale) OrderData(order domain.Order, customer domain.Customer, storeName string) Data {
	items := make([]Item, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, Item{Name: it.Name, Qty: it.Qty})
	}
	name := customer.Name
	if name == "" {
		name = order.ShippingAddress.FullName
	}
	return Data{
		CustomerName:   name,
		StoreName:      storeName,
		OrderNumber:    firstNonEmpty(order.Number, order.ID),
		ItemCount:      order.ItemCount(),
		Items:          items,
		Amount:         l.FormatAmount(order.AmountMinor, order.Currency),
		Address:        order.ShippingAddress.Format(),
		TrackingNumber: order.TrackingNumber,
	}
}

func normalizeCountry(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
