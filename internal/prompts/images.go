package prompts

import "regexp"

// Image URL patterns recognised in task descriptions: markdown image links,
// bare raster URLs, and inline base64 data URIs.
var (
	markdownImageRe = regexp.MustCompile(`!\[[^\]]*\]\(((?:https?://|data:)[^)\s]+)\)`)
	bareImageURLRe  = regexp.MustCompile(`(?i)\bhttps?://\S+\.(?:png|jpe?g|gif|webp|bmp)(?:\?\S*)?`)
	dataImageRe     = regexp.MustCompile(`data:image/[a-zA-Z+.-]+;base64,[A-Za-z0-9+/=]+`)
)

// ExtractImageURLs pulls image references out of a task description, in
// document order per pattern, deduplicated.
func ExtractImageURLs(description string) []string {
	if description == "" {
		return nil
	}

	seen := make(map[string]bool)
	var urls []string
	add := func(url string) {
		if url == "" || seen[url] {
			return
		}
		seen[url] = true
		urls = append(urls, url)
	}

	for _, m := range markdownImageRe.FindAllStringSubmatch(description, -1) {
		add(m[1])
	}
	for _, m := range bareImageURLRe.FindAllString(description, -1) {
		add(m)
	}
	for _, m := range dataImageRe.FindAllString(description, -1) {
		add(m)
	}
	return urls
}
