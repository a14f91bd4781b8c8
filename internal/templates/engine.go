// Package templates expands parameterized report statements per server.
package templates

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/fleetquery/internal/domain"
	"github.com/rpattn/fleetquery/internal/shard"
)

// Token is a placeholder recognised inside a template.
type Token string

const (
	TokenYear        Token = "{ano}"
	TokenPeriod      Token = "{periodo}"
	TokenEntity      Token = "{entidade}"
	TokenEntities    Token = "{entidades}"
	TokenEntitiesSet Token = "{entidades_set}"
	TokenSubAccounts Token = "{subcontas}"
	TokenMonthsBack  Token = "{meses_atras}"
	TokenCutoffDate  Token = "{data_limite}"
)

const defaultMonthsBack = 1

// Tokens lists every recognised token.
func Tokens() []Token {
	return []Token{
		TokenYear,
		TokenPeriod,
		TokenEntity,
		TokenEntities,
		TokenEntitiesSet,
		TokenSubAccounts,
		TokenMonthsBack,
		TokenCutoffDate,
	}
}

// Shards is the subset of the shard directory the engine reads.
type Shards interface {
	OwnedEntities(server domain.ServerDescriptor) []string
	Slots(server domain.ServerDescriptor, width int) []string
	SubAccounts(entities []string) []string
}

// Engine substitutes tokens. It holds no mutable state.
type Engine struct {
	shards Shards
	now    func() time.Time
	width  int
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for year, period and cutoff defaults.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithSlotWidth sets how many entity slots are rendered.
func WithSlotWidth(width int) Option {
	return func(e *Engine) {
		if width > 0 {
			e.width = width
		}
	}
}

// NewEngine builds an Engine over the shard directory.
func NewEngine(shards Shards, opts ...Option) *Engine {
	e := &Engine{
		shards: shards,
		now:    time.Now,
		width:  shard.DefaultSlotWidth,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand replaces every known token in template for the given server.
// Unknown tokens are left untouched and each token is replaced whole, so a
// token is never partially matched by a longer or shorter sibling.
func (e *Engine) Expand(template string, params domain.TemplateParameters, server domain.ServerDescriptor) string {
	return e.replacer(params, server).Replace(template)
}

// Values returns the substitution computed for each token.
func (e *Engine) Values(params domain.TemplateParameters, server domain.ServerDescriptor) map[Token]string {
	now := e.now()

	year := now.Year()
	if params.Year != nil {
		year = *params.Year
	}
	period := int(now.Month())
	if params.Period != nil {
		period = *params.Period
	}
	monthsBack := defaultMonthsBack
	if params.MonthsBack != nil {
		monthsBack = *params.MonthsBack
	}
	cutoff := now.Format("2006-01-02")
	if params.CutoffDate != "" {
		cutoff = params.CutoffDate
	}

	slots := renderSlots(e.shards.Slots(server, e.width))
	accounts := renderSubAccounts(e.shards.SubAccounts(e.shards.OwnedEntities(server)))

	return map[Token]string{
		TokenYear:        strconv.Itoa(year),
		TokenPeriod:      strconv.Itoa(period),
		TokenEntity:      strings.ReplaceAll(params.Entity, "'", "''"),
		TokenEntities:    slots,
		TokenEntitiesSet: slots,
		TokenSubAccounts: accounts,
		TokenMonthsBack:  strconv.Itoa(monthsBack),
		TokenCutoffDate:  cutoff,
	}
}

func (e *Engine) replacer(params domain.TemplateParameters, server domain.ServerDescriptor) *strings.Replacer {
	values := e.Values(params, server)
	pairs := make([]string, 0, len(values)*2)
	for _, token := range Tokens() {
		pairs = append(pairs, string(token), values[token])
	}
	return strings.NewReplacer(pairs...)
}

func renderSlots(slots []string) string {
	lines := make([]string, len(slots))
	for idx, code := range slots {
		if code == "" {
			lines[idx] = fmt.Sprintf("SET @Entidade%d = NULL", idx+1)
			continue
		}
		lines[idx] = fmt.Sprintf("SET @Entidade%d = '%s'", idx+1, strings.ReplaceAll(code, "'", "''"))
	}
	return strings.Join(lines, "\n")
}

func renderSubAccounts(accounts []string) string {
	quoted := make([]string, len(accounts))
	for idx, account := range accounts {
		quoted[idx] = "'" + strings.ReplaceAll(account, "'", "''") + "'"
	}
	return strings.Join(quoted, ",")
}
