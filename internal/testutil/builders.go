package testutil

import (
	"fmt"

	"github.com/wesm/noticevault/internal/notice"
)

// NoticeBuilder provides a fluent API for constructing notice.Notice in tests.
type NoticeBuilder struct {
	n notice.Notice
}

// NewNotice creates a builder with sensible defaults. seq makes the detail
// link unique.
func NewNotice(seq int) *NoticeBuilder {
	return &NoticeBuilder{
		n: notice.Notice{
			Stage:          "계약",
			ProjectName:    fmt.Sprintf("LED 조명 교체 공사 %d", seq),
			Client:         "대구광역시교육청",
			Address:        "대구광역시 중구",
			ModelName:      "LED-100",
			Quantity:       10,
			NoticeDate:     "2026-01-05",
			DetailLink:     fmt.Sprintf("https://g2b.example/notice/%d", seq),
			AssignedOffice: "동대구지사",
			SourceSystem:   notice.SourceG2B,
		},
	}
}

func (b *NoticeBuilder) WithOffice(office string) *NoticeBuilder {
	b.n.AssignedOffice = office
	return b
}

func (b *NoticeBuilder) WithSource(source string) *NoticeBuilder {
	b.n.SourceSystem = source
	return b
}

func (b *NoticeBuilder) WithDate(date string) *NoticeBuilder {
	b.n.NoticeDate = date
	return b
}

func (b *NoticeBuilder) WithProject(name string) *NoticeBuilder {
	b.n.ProjectName = name
	return b
}

func (b *NoticeBuilder) WithClient(client string) *NoticeBuilder {
	b.n.Client = client
	return b
}

func (b *NoticeBuilder) WithModel(model string) *NoticeBuilder {
	b.n.ModelName = model
	return b
}

func (b *NoticeBuilder) WithCert(token string) *NoticeBuilder {
	b.n.IsCertified = token
	return b
}

func (b *NoticeBuilder) WithPhone(phone string) *NoticeBuilder {
	b.n.PhoneNumber = phone
	return b
}

func (b *NoticeBuilder) WithDetailLink(link string) *NoticeBuilder {
	b.n.DetailLink = link
	return b
}

func (b *NoticeBuilder) WithKaptCode(code string) *NoticeBuilder {
	b.n.KaptCode = code
	return b
}

func (b *NoticeBuilder) Favorite() *NoticeBuilder {
	b.n.IsFavorite = true
	return b
}

func (b *NoticeBuilder) Build() notice.Notice {
	return b.n
}
