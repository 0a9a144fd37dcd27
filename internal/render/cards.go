package render

import (
	"regexp"
	"strings"
)

var (
	kvLineRe    = regexp.MustCompile(`^(\w+):\s*"?(.*?)"?$`)
	profileTag  = regexp.MustCompile(`(?i)<mp-common-profile`)
	dataIDRe    = regexp.MustCompile(`\bdata-id=`)
	sectionHead = regexp.MustCompile(`(?i)^\s*<section`)
	attrEscaper = strings.NewReplacer("&", "&amp;", `"`, "&quot;", "<", "&lt;", ">", "&gt;")
	attrDecoder = strings.NewReplacer("&quot;", `"`, "&#39;", "'", "&lt;", "<", "&gt;", ">", "&amp;", "&")
)

// parseKeyValues reads "key: value" lines; keys are lower-cased and
// surrounding quotes on values dropped.
func parseKeyValues(body string) map[string]string {
	out := map[string]string{}
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := kvLineRe.FindStringSubmatch(line); m != nil {
			out[strings.ToLower(m[1])] = strings.TrimSpace(m[2])
		}
	}
	return out
}

func firstOf(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := m[k]; v != "" {
			return v
		}
	}
	return ""
}

// renderProfile renders the author profile card fence.
func renderProfile(body string) string {
	kv := parseKeyValues(body)
	e := attrEscaper.Replace
	return `<div class="inkwell-profile-card"><a class="inkwell-profile-card-link" href="` + e(kv["url"]) + `">` +
		`<div class="card-main"><div class="avatar"><img src="` + e(kv["avatar"]) + `" alt="` + e(kv["nickname"]) + `" class="` + AvatarClass + `"></div>` +
		`<div class="content"><div class="title">` + e(kv["nickname"]) + `</div>` +
		`<div class="description">` + e(kv["description"]) + `</div>` +
		`<div class="meta">` + e(kv["tips"]) + `</div></div>` +
		`<div class="arrow"><i class="weui-icon-arrow"></i></div></div>` +
		`<div class="card-footer">` + e(kv["footer"]) + `</div></a></div>`
}

// CardInfo describes an official-account profile card.
type CardInfo struct {
	ID        string
	HeadImg   string
	Nickname  string
	Signature string
	Alias     string
	RawHTML   string
}

func pickAttr(raw, name string) string {
	re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(name) + `=("([^"]*)"|'([^']*)')`)
	m := re.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	v := m[2]
	if v == "" {
		v = m[3]
	}
	return attrDecoder.Replace(strings.TrimSpace(v))
}

// ParseCard reads a card fence body: either raw <mp-common-profile> markup
// or key/value lines. It returns nil for an empty body.
func ParseCard(body string) *CardInfo {
	raw := strings.TrimSpace(body)
	if raw == "" {
		return nil
	}
	if profileTag.MatchString(raw) || dataIDRe.MatchString(raw) {
		return &CardInfo{
			ID:        pickAttr(raw, "data-id"),
			HeadImg:   pickAttr(raw, "data-headimg"),
			Nickname:  pickAttr(raw, "data-nickname"),
			Signature: pickAttr(raw, "data-signature"),
			Alias:     pickAttr(raw, "data-alias"),
			RawHTML:   raw,
		}
	}
	kv := parseKeyValues(raw)
	return &CardInfo{
		ID:        kv["id"],
		HeadImg:   firstOf(kv, "headimg", "avatar"),
		Nickname:  firstOf(kv, "nickname", "name"),
		Signature: firstOf(kv, "signature", "desc", "description"),
		Alias:     kv["alias"],
	}
}

// OfficialCardHTML builds the editor's native profile widget markup.
func OfficialCardHTML(info CardInfo) string {
	e := attrEscaper.Replace
	return `<section class="mp_profile_iframe_wrp" nodeleaf=""><mp-common-profile class="js_uneditable custom_select_card mp_profile_iframe mp_common_widget js_wx_tap_highlight" data-pluginname="mpprofile"` +
		` data-nickname="` + e(info.Nickname) + `" data-alias="` + e(info.Alias) + `" data-from="0" data-headimg="` + e(info.HeadImg) + `"` +
		` data-signature="` + e(info.Signature) + `" data-id="` + e(info.ID) + `" data-is_biz_ban="0" data-service_type="1" data-verify_status="0"` +
		` data-origin_num="0" data-isban="0" data-biz_account_status="0" data-index="0"></mp-common-profile></section>`
}

// cardHTML returns the markup restored at upload time.
func cardHTML(info *CardInfo) string {
	if info.RawHTML == "" {
		return OfficialCardHTML(*info)
	}
	html := info.RawHTML
	if !sectionHead.MatchString(html) {
		html = `<section class="mp_profile_iframe_wrp" nodeleaf="">` + html + `</section>`
	}
	return html
}

func (p *Pipeline) cardPreview(info CardInfo) string {
	e := attrEscaper.Replace
	pre := p.opts.Prefix
	id := ""
	if info.ID != "" {
		id = ` data-id="` + e(info.ID) + `"`
	}
	return `<section` + id + ` class="` + pre + `-mpcard-wrapper"><div class="` + pre + `-mpcard-content">` +
		`<img class="` + pre + `-mpcard-headimg" width="54" height="54" src="` + e(info.HeadImg) + `">` +
		`<div class="` + pre + `-mpcard-info"><div class="` + pre + `-mpcard-nickname">` + e(info.Nickname) + `</div>` +
		`<div class="` + pre + `-mpcard-signature">` + e(info.Signature) + `</div></div></div>` +
		`<div class="` + pre + `-mpcard-foot">公众号</div></section>`
}

// renderCard caches the card's real markup in the session and returns its
// preview placeholder.
func (e *codeExt) renderCard(s *Session, body string) string {
	info := ParseCard(body)
	if info == nil || info.ID == "" || (info.RawHTML != "" && !profileTag.MatchString(info.RawHTML)) {
		return "<span>公众号名片数据错误，缺少id</span>"
	}
	if info.HeadImg == "" && info.Nickname == "" && info.Signature == "" {
		return "<span>公众号名片数据为空</span>"
	}
	s.SetCard(info.ID, cardHTML(info))
	preview := *info
	if preview.Nickname == "" {
		preview.Nickname = e.p.opts.CardName
	}
	if preview.Signature == "" {
		preview.Signature = e.p.opts.CardSignature
	}
	return e.p.cardPreview(preview)
}
