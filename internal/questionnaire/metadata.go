package questionnaire

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// MetadataValueLimit 是支付会话元数据单个值的最大长度。
const MetadataValueLimit = 500

const (
	keySpecial  = "special_instructions"
	keySpecial2 = "special_instructions_2"
)

// Metadata 把问卷展开为字符串映射，超长的特殊说明拆成两个键。
func (in Inputs) Metadata() map[string]string {
	md := map[string]string{
		"niche":              truncate(in.Niche, MetadataValueLimit),
		"audience":           truncate(in.Audience, MetadataValueLimit),
		"product_or_service": truncate(in.ProductOrService, MetadataValueLimit),
		"primary_platform":   truncate(in.PrimaryPlatform, MetadataValueLimit),
		"tone":               truncate(in.Tone, MetadataValueLimit),
		"monthly_goal":       truncate(in.MonthlyGoal, MetadataValueLimit),
		"video_comfort":      truncate(in.VideoComfort, MetadataValueLimit),
		"hashtag_style":      truncate(in.HashtagStyle, MetadataValueLimit),
	}
	if in.ContentBalance.IsSet() {
		md["content_balance"] = strconv.Itoa(in.ContentBalance.Percent())
	}
	if in.Location != "" {
		md["location"] = truncate(in.Location, MetadataValueLimit)
	}
	if in.SpecialInstructions != "" {
		head, tail := splitRunes(in.SpecialInstructions, MetadataValueLimit)
		md[keySpecial] = head
		if tail != "" {
			md[keySpecial2] = truncate(tail, MetadataValueLimit)
		}
	}
	return md
}

// FromMetadata 从支付会话元数据还原问卷。ok 为 false 表示元数据中没有问卷。
func FromMetadata(md map[string]string) (Inputs, bool) {
	if strings.TrimSpace(md["niche"]) == "" {
		return Inputs{}, false
	}
	in := Inputs{
		Niche:               md["niche"],
		Audience:            md["audience"],
		ProductOrService:    md["product_or_service"],
		PrimaryPlatform:     md["primary_platform"],
		Tone:                md["tone"],
		MonthlyGoal:         md["monthly_goal"],
		VideoComfort:        md["video_comfort"],
		ContentBalance:      ParseBalance(md["content_balance"]),
		HashtagStyle:        md["hashtag_style"],
		SpecialInstructions: md[keySpecial] + md[keySpecial2],
		Location:            md["location"],
	}
	return in.Normalize(), true
}

func truncate(s string, limit int) string {
	head, _ := splitRunes(s, limit)
	return head
}

func splitRunes(s string, limit int) (string, string) {
	if utf8.RuneCountInString(s) <= limit {
		return s, ""
	}
	runes := []rune(s)
	return string(runes[:limit]), string(runes[limit:])
}
