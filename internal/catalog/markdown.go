package catalog

import (
	"regexp"
	"strings"

	"harbor/internal/knowledge"
)

var (
	storeInfoSection = regexp.MustCompile(`(?s)## Store Info\n(.*?)\n## `)
	productHeading   = regexp.MustCompile(`\n### `)
	priceField       = regexp.MustCompile(`\*\*Price:\*\*\s*\$([\d,.]+)`)
	wasField         = regexp.MustCompile(`\(was \$([\d,.]+)\)`)
	handleField      = regexp.MustCompile(`\*\*Handle:\*\*\s*(\S+)`)
	tagsField        = regexp.MustCompile(`\*\*Tags:\*\*\s*(.+)`)
)

// ParseProductsMarkdown reads a hand-maintained catalog: an optional
// "## Store Info" section followed by one "### Title" section per product
// with **Price:**, **Handle:** and **Tags:** fields.
func ParseProductsMarkdown(text, store, businessName string) []knowledge.Chunk {
	var chunks []knowledge.Chunk
	if m := storeInfoSection.FindStringSubmatch(text); m != nil {
		chunks = append(chunks, knowledge.Chunk{
			SourceType: "policy",
			SourceID:   "store-info",
			Title:      storeInfoTitle(businessName),
			Content:    strings.TrimSpace(m[1]),
		})
	}

	sections := productHeading.Split(text, -1)
	for _, section := range sections[1:] {
		lines := strings.Split(strings.TrimSpace(section), "\n")
		title := strings.TrimSpace(lines[0])
		if title == "" {
			continue
		}
		body := strings.Join(lines[1:], "\n")

		price := submatch(priceField, body)
		was := submatch(wasField, body)
		handle := submatch(handleField, body)
		var tags []string
		if raw := submatch(tagsField, body); raw != "" {
			tags = cleanTags(strings.Split(raw, ","))
		}

		var desc []string
		for _, line := range lines[1:] {
			line = strings.TrimSpace(line)
			switch {
			case strings.HasPrefix(line, "- **"), strings.HasPrefix(line, "**"):
			case strings.HasPrefix(line, "- "):
				desc = append(desc, line[2:])
			case line != "":
				desc = append(desc, line)
			}
		}

		var b strings.Builder
		b.WriteString(title + ". ")
		if price != "" {
			b.WriteString("Price: $" + price)
			if was != "" {
				b.WriteString(" (was $" + was + ")")
			}
			b.WriteString(". ")
		}
		if len(tags) > 0 {
			b.WriteString("Tags: " + strings.Join(tags, ", ") + ". ")
		}
		b.WriteString(strings.Join(desc, " "))

		url := ""
		if handle != "" && store != "" {
			url = StoreURL(store) + "/products/" + handle
		}
		sourceID := handle
		if sourceID == "" {
			sourceID = slug(title)
		}
		meta := map[string]any{"tags": tags}
		for k, v := range map[string]string{"price": price, "was_price": was, "handle": handle, "url": url} {
			if v != "" {
				meta[k] = v
			}
		}
		chunks = append(chunks, knowledge.Chunk{
			SourceType: "product",
			SourceID:   sourceID,
			Title:      title,
			Content:    strings.TrimSpace(b.String()),
			URL:        url,
			Metadata:   meta,
		})
	}
	return chunks
}

func submatch(re *regexp.Regexp, s string) string {
	if m := re.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func slug(title string) string {
	s := strings.ReplaceAll(strings.ToLower(title), " ", "-")
	if r := []rune(s); len(r) > 100 {
		s = string(r[:100])
	}
	return s
}

func storeInfoTitle(businessName string) string {
	if strings.TrimSpace(businessName) == "" {
		return "Store Info"
	}
	return businessName + " Store Info"
}

// StoreInfoChunk describes the store itself: policies, pickup and shipping.
// It returns false when there is nothing to say.
func StoreInfoChunk(businessName, store, info string) (knowledge.Chunk, bool) {
	info = strings.TrimSpace(info)
	if info == "" {
		return knowledge.Chunk{}, false
	}
	content := info
	if store != "" && !strings.Contains(info, "Website:") {
		content = "Website: " + StoreURL(store) + ". " + info
	}
	if businessName != "" && !strings.HasPrefix(content, businessName) {
		content = businessName + ". " + content
	}
	return knowledge.Chunk{
		SourceType: "policy",
		SourceID:   "store-info",
		Title:      storeInfoTitle(businessName),
		Content:    content,
	}, true
}
