package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/wtchat/wtchat/internal/api"
	"github.com/wtchat/wtchat/internal/app"
	"github.com/wtchat/wtchat/internal/session"
	"github.com/wtchat/wtchat/internal/store"
	"go.uber.org/fx"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	serverFlag := flag.String("server", "", "server base URL (overrides config)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	var a *app.App
	fxApp := fx.New(
		app.Module(app.Params{SessionName: sessionName, ServerURL: *serverFlag}),
		fx.Populate(&a),
		fx.NopLogger,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := fxApp.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = fxApp.Stop(context.Background()) }()

	switch args[0] {
	case "register":
		cmdRegister(ctx, a, args[1:])
	case "login":
		cmdLogin(ctx, a, args[1:])
	case "logout":
		cmdLogout(ctx, a)
	case "whoami":
		cmdWhoami(ctx, a, *jsonFlag)
	case "search":
		cmdSearch(ctx, a, args[1:], *jsonFlag)
	case "chats":
		cmdChats(ctx, a, *jsonFlag)
	case "chat":
		cmdChat(ctx, a, args[1:], *jsonFlag)
	case "create-chat":
		cmdCreateChat(ctx, a, args[1:])
	case "rename-chat":
		cmdRenameChat(ctx, a, args[1:])
	case "send":
		cmdSend(ctx, a, args[1:])
	case "edit-message":
		cmdEditMessage(ctx, a, args[1:])
	case "delete-message":
		cmdDeleteMessage(ctx, a, args[1:])
	case "add-member":
		cmdAddMember(ctx, a, args[1:])
	case "remove-member":
		cmdRemoveMember(ctx, a, args[1:])
	case "contacts":
		cmdContacts(ctx, a, *jsonFlag)
	case "blocked":
		cmdBlocked(ctx, a, *jsonFlag)
	case "add-contact":
		cmdAddContact(ctx, a, args[1:])
	case "remove-contact":
		cmdRemoveContact(ctx, a, args[1:])
	case "block":
		cmdBlock(ctx, a, args[1:])
	case "unblock":
		cmdUnblock(ctx, a, args[1:])
	case "photo":
		cmdPhoto(ctx, a, args[1:])
	case "set-photo":
		cmdSetPhoto(ctx, a, args[1:])
	case "update-profile":
		cmdUpdateProfile(ctx, a, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: wtctl [--session <name>] [--server <url>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  register <first> <last> <email> <password>   Create an account")
	fmt.Fprintln(os.Stderr, "  login <email> <password>                     Log in and save the session")
	fmt.Fprintln(os.Stderr, "  logout                                       Log out and clear the session")
	fmt.Fprintln(os.Stderr, "  whoami                                       Show the logged-in profile")
	fmt.Fprintln(os.Stderr, "  update-profile <first> <last>                Update the profile name")
	fmt.Fprintln(os.Stderr, "  search <query> [all|contacts]                Search users")
	fmt.Fprintln(os.Stderr, "  chats                                        List chats")
	fmt.Fprintln(os.Stderr, "  chat <id> [offset]                           Show a chat's messages")
	fmt.Fprintln(os.Stderr, "  create-chat <name>                           Create a chat")
	fmt.Fprintln(os.Stderr, "  rename-chat <id> <name>                      Rename a chat")
	fmt.Fprintln(os.Stderr, "  send <chat-id> <text>                        Send a message")
	fmt.Fprintln(os.Stderr, "  edit-message <chat-id> <msg-id> <text>       Edit a message")
	fmt.Fprintln(os.Stderr, "  delete-message <chat-id> <msg-id>            Delete a message")
	fmt.Fprintln(os.Stderr, "  add-member <chat-id> <user-id>               Add a chat member")
	fmt.Fprintln(os.Stderr, "  remove-member <chat-id> <user-id>            Remove a chat member")
	fmt.Fprintln(os.Stderr, "  contacts                                     List active contacts")
	fmt.Fprintln(os.Stderr, "  blocked                                      List blocked users")
	fmt.Fprintln(os.Stderr, "  add-contact <user-id>                        Add a contact")
	fmt.Fprintln(os.Stderr, "  remove-contact <user-id>                     Remove a contact")
	fmt.Fprintln(os.Stderr, "  block <user-id>                              Block a user")
	fmt.Fprintln(os.Stderr, "  unblock <user-id>                            Unblock a user")
	fmt.Fprintln(os.Stderr, "  photo <user-id> <file>                       Save a profile photo")
	fmt.Fprintln(os.Stderr, "  set-photo <file>                             Upload your profile photo")
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func usage(text string) {
	fmt.Fprintf(os.Stderr, "usage: wtctl %s\n", text)
	os.Exit(1)
}

func parseID(arg, what string) int64 {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		fail("invalid %s: %q", what, arg)
	}
	return id
}

func requireAuth(a *app.App) {
	if !a.Session.Active() {
		fail("not logged in (run wtctl login)")
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func cmdRegister(ctx context.Context, a *app.App, args []string) {
	if len(args) != 4 {
		usage("register <first> <last> <email> <password>")
	}
	out, err := a.Client.Register(ctx, args[0], args[1], args[2], args[3])
	if err != nil {
		fail("%v", err)
	}
	fmt.Printf("Registered user %d\n", out.UserID)
}

func cmdLogin(ctx context.Context, a *app.App, args []string) {
	if len(args) != 2 {
		usage("login <email> <password>")
	}
	out, err := a.Client.Login(ctx, args[0], args[1])
	if err != nil {
		fail("%v", err)
	}
	a.Session.Establish(out.ID, out.Token)
	if err := a.Session.SaveCredentials(); err != nil {
		fail("saving credentials: %v", err)
	}
	fmt.Printf("Logged in as user %d (session %q)\n", out.ID, a.Session.Name())
}

func cmdLogout(ctx context.Context, a *app.App) {
	requireAuth(a)
	if err := a.Client.Logout(ctx); err != nil {
		// The server-side token may already be gone; clear locally regardless.
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	a.Session.Invalidate("logout")
	fmt.Println("Logged out")
}

func cmdWhoami(ctx context.Context, a *app.App, jsonOut bool) {
	requireAuth(a)
	u, err := a.Client.GetUser(ctx, a.Session.UserID())
	if err != nil {
		fail("%v", err)
	}
	if jsonOut {
		outputJSON(u)
		return
	}
	fmt.Printf("User:  %d\n", u.UserID)
	fmt.Printf("Name:  %s %s\n", u.FirstName, u.LastName)
	fmt.Printf("Email: %s\n", u.Email)
}

func cmdUpdateProfile(ctx context.Context, a *app.App, args []string) {
	requireAuth(a)
	if len(args) != 2 {
		usage("update-profile <first> <last>")
	}
	update := api.UserUpdate{FirstName: args[0], LastName: args[1]}
	if err := a.Client.UpdateUser(ctx, a.Session.UserID(), update); err != nil {
		fail("%v", err)
	}
	fmt.Println("Profile updated")
}

func cmdSearch(ctx context.Context, a *app.App, args []string, jsonOut bool) {
	requireAuth(a)
	if len(args) < 1 {
		usage("search <query> [all|contacts]")
	}
	searchIn := "all"
	if len(args) > 1 {
		searchIn = args[1]
	}
	users, err := a.Client.SearchUsers(ctx, args[0], searchIn, store.DefaultPageSize, 0)
	if err != nil {
		fail("%v", err)
	}
	if jsonOut {
		outputJSON(users)
		return
	}
	for _, u := range users {
		fmt.Printf("%6d  %s %s  <%s>\n", u.UserID, u.FirstName, u.LastName, u.Email)
	}
}

func cmdChats(ctx context.Context, a *app.App, jsonOut bool) {
	requireAuth(a)
	chats, err := a.Chats.List(ctx)
	if err != nil {
		fail("%v", err)
	}
	if jsonOut {
		outputJSON(chats)
		return
	}
	for _, c := range chats {
		last := "(no messages)"
		if c.LastMessage != nil {
			last = fmt.Sprintf("%s: %s", c.LastMessage.Author.DisplayName(), c.LastMessage.Text)
		}
		fmt.Printf("%6d  %-24s  %s\n", c.ID, c.Name, last)
	}
}

func cmdChat(ctx context.Context, a *app.App, args []string, jsonOut bool) {
	requireAuth(a)
	if len(args) < 1 {
		usage("chat <id> [offset]")
	}
	chatID := parseID(args[0], "chat id")
	offset := 0
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 0 {
			fail("invalid offset: %q", args[1])
		}
		offset = n
	}

	st := a.Chats.Open(chatID)
	if err := st.Load(ctx, offset, store.DefaultPageSize); err != nil {
		fail("%v", err)
	}
	msgs := st.Messages()
	if jsonOut {
		outputJSON(msgs)
		return
	}
	fmt.Printf("Chat %d: %s\n", chatID, st.Name())
	for _, m := range msgs {
		ts := time.UnixMilli(m.Timestamp).Format("2006-01-02 15:04")
		fmt.Printf("%s %s  %-20s  %s\n", stateMarker(m.State), ts, m.Author.DisplayName(), m.Text)
	}
}

// stateMarker renders a message's sync state as a one-character prefix.
func stateMarker(state store.SyncState) string {
	switch state {
	case store.StatePendingCreate, store.StatePendingEdit, store.StatePendingDelete:
		return "~"
	case store.StateFailed:
		return "!"
	}
	return " "
}

func cmdCreateChat(ctx context.Context, a *app.App, args []string) {
	requireAuth(a)
	if len(args) < 1 {
		usage("create-chat <name>")
	}
	c, err := a.Chats.Create(ctx, strings.Join(args, " "))
	if err != nil {
		fail("%v", err)
	}
	fmt.Printf("Created chat %d: %s\n", c.ID, c.Name)
}

func cmdRenameChat(ctx context.Context, a *app.App, args []string) {
	requireAuth(a)
	if len(args) < 2 {
		usage("rename-chat <id> <name>")
	}
	chatID := parseID(args[0], "chat id")
	if _, err := a.Chats.List(ctx); err != nil {
		fail("%v", err)
	}
	if err := a.Chats.Rename(ctx, chatID, strings.Join(args[1:], " ")); err != nil {
		fail("%v", err)
	}
	fmt.Println("Chat renamed")
}

func cmdSend(ctx context.Context, a *app.App, args []string) {
	requireAuth(a)
	if len(args) < 2 {
		usage("send <chat-id> <text>")
	}
	chatID := parseID(args[0], "chat id")
	st := a.Chats.Open(chatID)
	msg, err := st.Send(ctx, strings.Join(args[1:], " "))
	if err != nil {
		fail("%v", err)
	}
	fmt.Printf("Sent message %d\n", msg.ID)
}

func cmdEditMessage(ctx context.Context, a *app.App, args []string) {
	requireAuth(a)
	if len(args) < 3 {
		usage("edit-message <chat-id> <msg-id> <text>")
	}
	chatID := parseID(args[0], "chat id")
	messageID := parseID(args[1], "message id")
	st := a.Chats.Open(chatID)
	if err := st.Refresh(ctx); err != nil {
		fail("%v", err)
	}
	if err := st.Edit(ctx, messageID, strings.Join(args[2:], " ")); err != nil {
		fail("%v", err)
	}
	fmt.Println("Message edited")
}

func cmdDeleteMessage(ctx context.Context, a *app.App, args []string) {
	requireAuth(a)
	if len(args) != 2 {
		usage("delete-message <chat-id> <msg-id>")
	}
	chatID := parseID(args[0], "chat id")
	messageID := parseID(args[1], "message id")
	st := a.Chats.Open(chatID)
	if err := st.Refresh(ctx); err != nil {
		fail("%v", err)
	}
	if err := st.Delete(ctx, messageID); err != nil {
		fail("%v", err)
	}
	fmt.Println("Message deleted")
}

func cmdAddMember(ctx context.Context, a *app.App, args []string) {
	requireAuth(a)
	if len(args) != 2 {
		usage("add-member <chat-id> <user-id>")
	}
	chatID := parseID(args[0], "chat id")
	userID := parseID(args[1], "user id")
	u, err := a.Client.GetUser(ctx, userID)
	if err != nil {
		fail("%v", err)
	}
	member := store.User{ID: u.UserID, FirstName: u.FirstName, LastName: u.LastName, Email: u.Email}
	if err := a.Members.AddMember(ctx, chatID, member); err != nil {
		fail("%v", err)
	}
	fmt.Printf("Added %s %s to chat %d\n", u.FirstName, u.LastName, chatID)
}

func cmdRemoveMember(ctx context.Context, a *app.App, args []string) {
	requireAuth(a)
	if len(args) != 2 {
		usage("remove-member <chat-id> <user-id>")
	}
	chatID := parseID(args[0], "chat id")
	userID := parseID(args[1], "user id")
	st := a.Chats.Open(chatID)
	if err := st.Refresh(ctx); err != nil {
		fail("%v", err)
	}
	if err := a.Members.RemoveMember(ctx, chatID, userID); err != nil {
		fail("%v", err)
	}
	fmt.Printf("Removed user %d from chat %d\n", userID, chatID)
}

func cmdContacts(ctx context.Context, a *app.App, jsonOut bool) {
	requireAuth(a)
	if _, err := a.Contacts.LoadContacts(ctx); err != nil {
		fail("%v", err)
	}
	if _, err := a.Contacts.LoadBlocked(ctx); err != nil {
		fail("%v", err)
	}
	list := a.Contacts.Contacts()
	if jsonOut {
		outputJSON(list)
		return
	}
	for _, c := range list {
		fmt.Printf("%6d  %s\n", c.UserID, c.DisplayName)
	}
}

func cmdBlocked(ctx context.Context, a *app.App, jsonOut bool) {
	requireAuth(a)
	if _, err := a.Contacts.LoadBlocked(ctx); err != nil {
		fail("%v", err)
	}
	list := a.Contacts.Blocked()
	if jsonOut {
		outputJSON(list)
		return
	}
	for _, c := range list {
		fmt.Printf("%6d  %s\n", c.UserID, c.DisplayName)
	}
}

func cmdAddContact(ctx context.Context, a *app.App, args []string) {
	requireAuth(a)
	if len(args) != 1 {
		usage("add-contact <user-id>")
	}
	userID := parseID(args[0], "user id")
	u, err := a.Client.GetUser(ctx, userID)
	if err != nil {
		fail("%v", err)
	}
	contact := store.User{ID: u.UserID, FirstName: u.FirstName, LastName: u.LastName, Email: u.Email}
	if err := a.Contacts.Add(ctx, contact); err != nil {
		fail("%v", err)
	}
	fmt.Printf("Added %s %s to contacts\n", u.FirstName, u.LastName)
}

func cmdRemoveContact(ctx context.Context, a *app.App, args []string) {
	requireAuth(a)
	if len(args) != 1 {
		usage("remove-contact <user-id>")
	}
	userID := parseID(args[0], "user id")
	if _, err := a.Contacts.LoadContacts(ctx); err != nil {
		fail("%v", err)
	}
	if err := a.Contacts.Remove(ctx, userID); err != nil {
		fail("%v", err)
	}
	fmt.Printf("Removed user %d from contacts\n", userID)
}

func cmdBlock(ctx context.Context, a *app.App, args []string) {
	requireAuth(a)
	if len(args) != 1 {
		usage("block <user-id>")
	}
	userID := parseID(args[0], "user id")
	if _, err := a.Contacts.LoadContacts(ctx); err != nil {
		fail("%v", err)
	}
	if _, err := a.Contacts.LoadBlocked(ctx); err != nil {
		fail("%v", err)
	}
	if err := a.Contacts.Block(ctx, userID); err != nil {
		fail("%v", err)
	}
	fmt.Printf("Blocked user %d\n", userID)
}

func cmdUnblock(ctx context.Context, a *app.App, args []string) {
	requireAuth(a)
	if len(args) != 1 {
		usage("unblock <user-id>")
	}
	userID := parseID(args[0], "user id")
	if _, err := a.Contacts.LoadBlocked(ctx); err != nil {
		fail("%v", err)
	}
	if err := a.Contacts.Unblock(ctx, userID); err != nil {
		fail("%v", err)
	}
	fmt.Printf("Unblocked user %d\n", userID)
}

func cmdPhoto(ctx context.Context, a *app.App, args []string) {
	requireAuth(a)
	if len(args) != 2 {
		usage("photo <user-id> <file>")
	}
	userID := parseID(args[0], "user id")
	asset, err := a.Contacts.FetchPhoto(ctx, userID)
	if err != nil {
		fail("%v", err)
	}
	if asset.Missing {
		fmt.Printf("User %d has no profile photo\n", userID)
		return
	}
	if err := os.WriteFile(args[1], asset.Data, 0600); err != nil {
		fail("%v", err)
	}
	fmt.Printf("Saved %d bytes (%s) to %s\n", len(asset.Data), asset.ContentType, args[1])
}

func cmdSetPhoto(ctx context.Context, a *app.App, args []string) {
	requireAuth(a)
	if len(args) != 1 {
		usage("set-photo <file>")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		fail("%v", err)
	}
	contentType := "image/png"
	switch strings.ToLower(filepath.Ext(args[0])) {
	case ".jpg", ".jpeg":
		contentType = "image/jpeg"
	}
	if err := a.Client.UploadPhoto(ctx, a.Session.UserID(), data, contentType); err != nil {
		fail("%v", err)
	}
	a.Contacts.InvalidatePhoto(a.Session.UserID())
	fmt.Println("Profile photo updated")
}
