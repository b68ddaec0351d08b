// Package questionnaire holds the buyer's answers that drive plan generation.
package questionnaire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	xerrors "github.com/reeseleonb-crypto/quickpostkit/internal/errors"
)

// 默认值与 Checkout 表单保持一致。
const (
	DefaultPlatform       = "Instagram Reels"
	DefaultTone           = "friendly"
	DefaultGoal           = "engagement"
	DefaultVideoComfort   = "mixed"
	DefaultContentBalance = 40
	DefaultHashtagStyle   = "mix"
)

// Balance 表示教育类内容所占百分比，可接受数字或 "60/40 ..." 形式的字符串。
// 零值表示未填写，显式的 0 表示全部为推广内容。
type Balance struct {
	percent int
	set     bool
}

// BalanceOf 返回限制在 0..100 的已填写比例。
func BalanceOf(percent int) Balance {
	switch {
	case percent < 0:
		percent = 0
	case percent > 100:
		percent = 100
	}
	return Balance{percent: percent, set: true}
}

// Percent 返回教育类内容百分比，未填写时为 0。
func (b Balance) Percent() int { return b.percent }

// IsSet 报告调用方是否给出了比例。
func (b Balance) IsSet() bool { return b.set }

// MarshalJSON 未填写时输出 null，保证存储往返后仍能区分 0 与缺省。
func (b Balance) MarshalJSON() ([]byte, error) {
	if !b.set {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(b.percent)), nil
}

// UnmarshalJSON 接受数字、数字字符串或带说明的字符串。
func (b *Balance) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*b = Balance{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*b = ParseBalance(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("content_balance: %w", err)
	}
	*b = BalanceOf(int(f))
	return nil
}

var leadingInt = regexp.MustCompile(`\d{1,3}`)

// ParseBalance 取字符串中的第一个整数并限制在 0..100，没有数字时视为未填写。
func ParseBalance(s string) Balance {
	m := leadingInt.FindString(s)
	if m == "" {
		return Balance{}
	}
	n, _ := strconv.Atoi(m)
	return BalanceOf(n)
}

// Inputs 是问卷的全部字段。
type Inputs struct {
	Niche               string  `json:"niche"`
	Audience            string  `json:"audience"`
	ProductOrService    string  `json:"product_or_service"`
	PrimaryPlatform     string  `json:"primary_platform"`
	Tone                string  `json:"tone"`
	MonthlyGoal         string  `json:"monthly_goal"`
	VideoComfort        string  `json:"video_comfort"`
	ContentBalance      Balance `json:"content_balance"`
	HashtagStyle        string  `json:"hashtag_style"`
	SpecialInstructions string  `json:"special_instructions,omitempty"`
	Location            string  `json:"location,omitempty"`
}

var spaces = regexp.MustCompile(`\s+`)

func clean(s string) string {
	return strings.TrimSpace(spaces.ReplaceAllString(s, " "))
}

// Normalize 清理空白并填充默认值。特殊说明保留换行。
func (in Inputs) Normalize() Inputs {
	out := in
	out.Niche = clean(in.Niche)
	out.Audience = clean(in.Audience)
	out.ProductOrService = clean(in.ProductOrService)
	out.PrimaryPlatform = clean(in.PrimaryPlatform)
	out.Tone = clean(in.Tone)
	out.MonthlyGoal = clean(in.MonthlyGoal)
	out.VideoComfort = strings.ToLower(clean(in.VideoComfort))
	out.HashtagStyle = strings.ToLower(clean(in.HashtagStyle))
	out.SpecialInstructions = strings.TrimSpace(in.SpecialInstructions)
	out.Location = clean(in.Location)

	if out.PrimaryPlatform == "" {
		out.PrimaryPlatform = DefaultPlatform
	}
	if out.Tone == "" {
		out.Tone = DefaultTone
	}
	if out.MonthlyGoal == "" {
		out.MonthlyGoal = DefaultGoal
	}
	if out.VideoComfort == "" {
		out.VideoComfort = DefaultVideoComfort
	}
	if !out.ContentBalance.IsSet() {
		out.ContentBalance = BalanceOf(DefaultContentBalance)
	}
	if out.HashtagStyle == "" {
		out.HashtagStyle = DefaultHashtagStyle
	}
	return out
}

type bound struct {
	field    string
	value    string
	min, max int
}

// Validate 按字段长度边界校验，返回列出全部问题字段的 INVALID_ARGUMENT 错误。
func (in Inputs) Validate() error {
	bounds := []bound{
		{"niche", in.Niche, 1, 120},
		{"audience", in.Audience, 1, 200},
		{"product_or_service", in.ProductOrService, 1, 160},
		{"primary_platform", in.PrimaryPlatform, 0, 40},
		{"tone", in.Tone, 0, 40},
		{"monthly_goal", in.MonthlyGoal, 0, 160},
		{"video_comfort", in.VideoComfort, 0, 20},
		{"hashtag_style", in.HashtagStyle, 0, 40},
		{"special_instructions", in.SpecialInstructions, 0, 1000},
		{"location", in.Location, 0, 120},
	}
	var opts []xerrors.Option
	var fields []string
	for _, b := range bounds {
		n := utf8.RuneCountInString(b.value)
		switch {
		case n < b.min:
			fields = append(fields, b.field)
			opts = append(opts, xerrors.WithMetadata(b.field, "required"))
		case n > b.max:
			fields = append(fields, b.field)
			opts = append(opts, xerrors.WithMetadata(b.field, fmt.Sprintf("at most %d characters", b.max)))
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return xerrors.New(xerrors.CodeInvalidArgument, "invalid input: "+strings.Join(fields, ", "), opts...)
}

// FieldErrors 从校验错误中取出字段说明。
func FieldErrors(err error) map[string]string {
	e, ok := xerrors.From(err)
	if !ok || e.Code() != xerrors.CodeInvalidArgument {
		return nil
	}
	return e.Metadata()
}

// Labels 返回文档封面使用的有序 "名称: 值" 列表。
func (in Inputs) Labels() [][2]string {
	special := in.SpecialInstructions
	if special == "" {
		special = "—"
	}
	labels := [][2]string{
		{"Audience", in.Audience},
		{"Product/Service", in.ProductOrService},
		{"Primary Platform", in.PrimaryPlatform},
		{"Tone", in.Tone},
		{"Monthly Goal", in.MonthlyGoal},
		{"Video Comfort", in.VideoComfort},
		{"Content Balance", fmt.Sprintf("%d%% educational", in.ContentBalance.Percent())},
		{"Hashtag Style", in.HashtagStyle},
	}
	if in.Location != "" {
		labels = append(labels, [2]string{"Location", in.Location})
	}
	return append(labels, [2]string{"Special Instructions", special})
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// Slug 生成文件名安全的细分领域标识。
func Slug(niche string) string {
	s := slugStrip.ReplaceAllString(strings.ToLower(niche), "-")
	s = strings.Trim(s, "-")
	if len(s) > 40 {
		s = strings.TrimRight(s[:40], "-")
	}
	if s == "" {
		return "plan"
	}
	return s
}
