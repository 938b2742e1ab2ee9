// Package links builds Bookshop.org purchase links for verified books.
package links

import (
	"fmt"
	"net/url"
	"strings"
)

// BookshopURL builds a purchase link. With an affiliate ID and a known
// ISBN the link goes straight to the product page; otherwise it falls
// back to a keyword search.
func BookshopURL(title, author, isbn, affiliateID string) string {
	if affiliateID != "" && isbn != "" {
		return fmt.Sprintf("https://bookshop.org/a/%s/%s", url.PathEscape(affiliateID), url.PathEscape(isbn))
	}
	params := url.Values{}
	params.Set("keywords", strings.TrimSpace(title+" "+author))
	return "https://bookshop.org/search?" + params.Encode()
}
