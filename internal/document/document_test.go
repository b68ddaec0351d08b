package document

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reeseleonb-crypto/quickpostkit/internal/plan"
	"github.com/reeseleonb-crypto/quickpostkit/internal/questionnaire"
)

func documentXML(t *testing.T, raw []byte) string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		defer rc.Close()
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		return string(body)
	}
	t.Fatalf("word/document.xml not found")
	return ""
}

func TestRenderWritesEveryDay(t *testing.T) {
	in := questionnaire.Inputs{Niche: "Dog grooming", Audience: "pet parents", ProductOrService: "mobile van"}.Normalize()
	p := plan.EnsureExactly(plan.Plan{}, plan.Days)

	r := NewRenderer("Fifth Element Labs", "")
	r.Now = func() time.Time { return time.Date(2025, time.March, 4, 0, 0, 0, 0, time.UTC) }

	var buf bytes.Buffer
	require.NoError(t, r.Render(&buf, p, in))

	xml := documentXML(t, buf.Bytes())
	assert.Contains(t, xml, "QuickPostKit — 30-Day Content Plan")
	assert.Contains(t, xml, "Tailored for: Dog grooming")
	assert.Contains(t, xml, "Generated on March 4, 2025 • Powered by Fifth Element Labs")
	assert.Contains(t, xml, "Day 1 — Idea 1")
	assert.Contains(t, xml, "Day 30 — Idea 30")
	assert.Contains(t, xml, "0–2s: Show subject clearly  [overlay: Start]")
	assert.Contains(t, xml, "Appendix E — Repurposing Guide")
	assert.Contains(t, xml, "© 2025 Fifth Element Labs — One-time license")
}

func TestFilename(t *testing.T) {
	in := questionnaire.Inputs{Niche: "Power Washing!"}
	got := Filename(in, time.UnixMilli(1700000000123), "job_5f3a-9c1e-77d2")
	assert.Equal(t, "QuickPostKit_power-washing_1700000000123_9c1e77d2.docx", got)
}

func TestFilenameDistinguishesSameMillisecond(t *testing.T) {
	in := questionnaire.Inputs{Niche: "bakery"}
	at := time.UnixMilli(1700000000123)

	a := Filename(in, at, "")
	b := Filename(in, at, "")
	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^QuickPostKit_bakery_1700000000123_[0-9a-f]{8}\.docx$`, a)
	assert.NotEqual(t, Filename(in, at, "job_aaaa1111"), Filename(in, at, "job_bbbb2222"))
}

func TestFormatStepWithoutOverlay(t *testing.T) {
	assert.Equal(t, "3–6s: Pan across the counter", FormatStep(plan.Step{StartS: 3, EndS: 6, Instruction: "Pan across the counter"}))
}
