// Package views renders session state into HTML fragments: the console
// log, the file list with viewer badges, the roster, and the full index
// page. Fragments are pushed to the browser over SSE as the session
// evolves.
package views

import (
	"bytes"
	"fmt"
	"html/template"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/russross/blackfriday/v2"

	"gittyup-client/internal/models"
	"gittyup-client/internal/session"
	"gittyup-client/internal/templates"
)

// LineData is one console line ready for the console-line template.
type LineData struct {
	Segments []SegmentData
}

// SegmentData is one styled span within a console line.
type SegmentData struct {
	Text  string
	Class string
	Link  string
	// Rendered is set for chat bodies, which pass through markdown.
	Rendered template.HTML
}

// ViewerData is one presence badge on a file row.
type ViewerData struct {
	Name  string
	Color string
}

// FileData is one row of the file list.
type FileData struct {
	Path     string
	Selected bool
	Viewers  []ViewerData
}

// UserData is one roster entry.
type UserData struct {
	Name  string
	Color string
	Self  bool
}

// PageData drives the index template.
type PageData struct {
	Phase      string
	RepoURL    string
	Commit     string
	Connected  bool
	Lines      []LineData
	Files      []FileData
	Users      []UserData
	PreviewURL string
	LastError  string
}

// LoadTemplates parses all templates from the embedded filesystem.
func LoadTemplates() (*template.Template, error) {
	var renderComponent func(string, any) template.HTML

	funcMap := template.FuncMap{
		"renderComponent": func(templateName string, data any) template.HTML {
			return renderComponent(templateName, data)
		},
	}

	tmpl, err := template.New("").Funcs(funcMap).ParseFS(templates.TemplateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	renderComponent = func(templateName string, data any) template.HTML {
		var buf bytes.Buffer
		if err := tmpl.ExecuteTemplate(&buf, templateName, data); err != nil {
			return template.HTML(fmt.Sprintf("<!-- Error rendering %s: %v -->", templateName, err))
		}
		return template.HTML(buf.String())
	}

	return tmpl, nil
}

// RenderText converts chat text to HTML with markdown support and autolink,
// then sanitizes it.
func RenderText(text string) template.HTML {
	html := blackfriday.Run([]byte(text),
		blackfriday.WithExtensions(
			blackfriday.CommonExtensions|blackfriday.Autolink))

	policy := bluemonday.UGCPolicy()
	safeHTML := policy.SanitizeBytes(html)

	if HasMarkdownElements(html) {
		return template.HTML(safeHTML)
	}
	return template.HTML(`<span class="preserve-breaks">` + string(safeHTML) + `</span>`)
}

// HasMarkdownElements checks if the rendered HTML contains actual markdown
// elements beyond just a simple paragraph wrapper.
func HasMarkdownElements(html []byte) bool {
	htmlStr := string(html)

	markdownIndicators := []string{
		"<h1", "<h2", "<h3", "<h4", "<h5", "<h6",
		"<ul", "<ol", "<li",
		"<blockquote",
		"<pre", "<code",
		"<table",
		"<strong", "<em",
		"<hr",
		"<a href=",
	}

	for _, indicator := range markdownIndicators {
		if strings.Contains(htmlStr, indicator) {
			return true
		}
	}

	return strings.Count(htmlStr, "<p>") > 1
}

// chatBody splits a "<Name> body" chat line so the body can pass through
// markdown while the attribution stays plain.
func chatBody(text string) (prefix, body string, ok bool) {
	if !strings.HasPrefix(text, "<") {
		return "", "", false
	}
	end := strings.Index(text, "> ")
	if end < 0 {
		return "", "", false
	}
	return text[:end+2], text[end+2:], true
}

// BuildLine converts a log entry into its render form. Chat entries get
// their body rendered as markdown; everything else is escaped text with a
// style class.
func BuildLine(entry models.LogEntry, chatClasses map[string]bool) LineData {
	line := LineData{Segments: make([]SegmentData, 0, len(entry.Segments))}
	for _, seg := range entry.Segments {
		data := SegmentData{Text: seg.Text, Class: seg.Class, Link: seg.Link}
		if chatClasses[seg.Class] && seg.Link == "" {
			if prefix, body, ok := chatBody(seg.Text); ok {
				data.Text = prefix
				data.Rendered = RenderText(body)
			}
		}
		line.Segments = append(line.Segments, data)
	}
	return line
}

// ChatClasses returns the segment classes whose text can be a chat line.
func ChatClasses() map[string]bool {
	classes := map[string]bool{models.ClassSelf: true}
	for _, class := range models.UserPalette {
		classes[class] = true
	}
	return classes
}

// BuildPage assembles the full page model from a session snapshot.
func BuildPage(state session.State, previewURL string) PageData {
	chat := ChatClasses()

	page := PageData{
		Phase:      string(state.Phase),
		RepoURL:    state.RepoURL,
		Commit:     state.Commit,
		Connected:  state.Phase == session.PhaseReady,
		PreviewURL: previewURL,
		LastError:  state.LastError,
	}

	for _, entry := range state.Logs {
		page.Lines = append(page.Lines, BuildLine(entry, chat))
	}
	page.Files = BuildFileList(state)
	page.Users = BuildRoster(state)
	return page
}

// BuildFileList builds the file rows with viewer badges from the presence
// index.
func BuildFileList(state session.State) []FileData {
	files := make([]FileData, 0, len(state.Files))
	for _, path := range state.Files {
		row := FileData{Path: path, Selected: path == state.SelectedFile}
		for _, ref := range state.FilesByActiveUser[path] {
			row.Viewers = append(row.Viewers, ViewerData{
				Name:  ref.Name,
				Color: session.UserColor(ref.ID, state.CurrentUserID),
			})
		}
		files = append(files, row)
	}
	return files
}

// BuildRoster builds the participant list, current user first, the rest by
// id.
func BuildRoster(state session.State) []UserData {
	ids := make([]int, 0, len(state.Users))
	for id := range state.Users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i] == state.CurrentUserID {
			return true
		}
		if ids[j] == state.CurrentUserID {
			return false
		}
		return ids[i] < ids[j]
	})

	users := make([]UserData, 0, len(ids))
	for _, id := range ids {
		user := state.Users[id]
		users = append(users, UserData{
			Name:  user.Name,
			Color: session.UserColor(id, state.CurrentUserID),
			Self:  id == state.CurrentUserID,
		})
	}
	return users
}

// RenderFragment renders a named template to a string for SSE delivery.
func RenderFragment(tmpl *template.Template, name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
