// Package crawler defines the domain types, collaborator interfaces, and error
// taxonomy shared by the grid crawl engine: areas, grid cells, search tasks,
// candidate and persisted records, and the session/search/sink contracts the
// worker pool drives.
package crawler
