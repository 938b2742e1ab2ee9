package handlers

import (
	"log"
	"net/http"
	"strconv"

	"radioreads/internal/db"
	"radioreads/internal/feed"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// ListBooks returns verified books, newest first, paged.
func (h *Handlers) ListBooks(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	count, err := db.CountBooks()
	if err != nil {
		log.Printf("handlers: failed to count books: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	books, err := db.ListBooks(pageSize, (page-1)*pageSize)
	if err != nil {
		log.Printf("handlers: failed to list books: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   count,
		"page":    page,
		"results": books,
	})
}

// GetBooksFeed serves an RSS feed of recently verified books.
func (h *Handlers) GetBooksFeed(w http.ResponseWriter, r *http.Request) {
	books, err := db.ListBooks(50, 0)
	if err != nil {
		log.Printf("handlers: failed to list books for feed: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	rss, err := feed.GenerateBooksRSS(books, r)
	if err != nil {
		log.Printf("handlers: failed to generate feed: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/rss+xml")
	w.Write([]byte(rss))
}
