package client

// cursorPaginatedMethods are the Web API methods that page with
// response_metadata.next_cursor and accept cursor/limit arguments.
var cursorPaginatedMethods = []string{
	"admin.apps.approved.list",
	"admin.apps.requests.list",
	"admin.apps.restricted.list",
	"admin.conversations.search",
	"admin.emoji.list",
	"admin.inviteRequests.approved.list",
	"admin.inviteRequests.denied.list",
	"admin.inviteRequests.list",
	"admin.teams.admins.list",
	"admin.teams.list",
	"admin.teams.owners.list",
	"admin.users.list",
	"admin.users.session.list",
	"apps.event.authorizations.list",
	"auth.teams.list",
	"chat.scheduledMessages.list",
	"conversations.history",
	"conversations.list",
	"conversations.members",
	"conversations.replies",
	"files.info",
	"files.remote.list",
	"reactions.list",
	"stars.list",
	"users.conversations",
	"users.list",
}

// methodTable answers per-method questions the dispatch core needs.
type methodTable struct {
	cursor map[string]struct{}
}

func newMethodTable(extra []string) *methodTable {
	t := &methodTable{cursor: make(map[string]struct{}, len(cursorPaginatedMethods)+len(extra))}
	for _, m := range cursorPaginatedMethods {
		t.cursor[m] = struct{}{}
	}
	for _, m := range extra {
		t.cursor[m] = struct{}{}
	}
	return t
}

// SupportsCursorPagination reports whether method pages by cursor.
func (t *methodTable) SupportsCursorPagination(method string) bool {
	_, ok := t.cursor[method]
	return ok
}
