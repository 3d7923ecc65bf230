// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/slices"
)

// Id identifies an entry of the issue catalog.
type Id int

const (
	ArtifactRejectedId Id = iota + 1
	DeployDirNotFoundId
	CommandNotFoundId
	DispatchFailedId
	ConfigLoadFailedId
	StateFileCorruptId
	WatchLimitReachedId
)

// MarkdownMsg is the markdown body of an issue.
type MarkdownMsg string

// HttpLink is a documentation link.
type HttpLink string

// Issue is a catalog entry explaining a failure and how to recover from it.
type Issue struct {
	id       Id          // ID used to lookup the issue
	mdMsg    MarkdownMsg // Markdown text that will be rendered
	docLinks []HttpLink
	extLinks []HttpLink
}

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

// Render renders the issue with the given glamour style ("dark", "light",
// "notty" or a path to a style file).
func (i *Issue) Render(stylePath string) (string, error) {
	var md strings.Builder
	md.WriteString(string(i.mdMsg))
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		md.WriteString("\n\n## See also:\n")
		for _, link := range i.docLinks {
			md.WriteString("- [" + string(link) + "](" + string(link) + ")\n")
		}
		for _, link := range i.extLinks {
			md.WriteString("- [" + string(link) + "](" + string(link) + ")\n")
		}
	}
	return render(md.String(), stylePath)
}

var (
	render = glamour.Render

	artifactRejectedIssue = &Issue{
		id: ArtifactRejectedId,
		mdMsg: `
# Artifact is not a deployment unit!

The file has the artifact suffix but could not be read as a deployment unit.

## Common causes:
- The file is not a ZIP archive
- The archive has no ` + "`OSGI-INF/SUBSYSTEM.MF`" + ` entry
- The manifest lacks a ` + "`Subsystem-SymbolicName`" + ` header
- The file was still being copied when it was read

## Things you can try:
- Inspect the artifact:
~~~
$ stamina inspect path/to/unit.esa
~~~

- Copy artifacts into the deploy directory atomically (write elsewhere, then move)`,
		extLinks: []HttpLink{"https://docs.osgi.org/specification/osgi.enterprise/7.0.0/service.subsystem.html"},
	}

	deployDirNotFoundIssue = &Issue{
		id: DeployDirNotFoundId,
		mdMsg: `
# Deploy directory not found!

The runtime watches a deploy directory for artifacts, and it does not exist.

## Things you can try:
- Create it:
~~~
$ mkdir -p deploy
~~~

- Point the runtime at another directory:
~~~cue
deploy_dir: "/srv/stamina/deploy"
~~~

- Or override it for a single run:
~~~
$ STAMINA_DEPLOY_DIR=/srv/stamina/deploy stamina run
~~~`,
	}

	commandNotFoundIssue = &Issue{
		id: CommandNotFoundId,
		mdMsg: `
# Command not found!

No handler registered the requested command before the wait timed out.

## Things you can try:
- Check the command name for typos
- Built-in commands are ` + "`units`, `sh`, `status` and `serve`" + `
- Give slow units more time to register their handlers:
~~~cue
command: timeout: "2m"
~~~`,
	}

	dispatchFailedIssue = &Issue{
		id: DispatchFailedId,
		mdMsg: `
# Command failed!

The command handler returned an error or panicked. The host was asked to stop.

## Things you can try:
- Re-run with debug logging for the full error chain:
~~~
$ STAMINA_LOG_LEVEL=debug stamina run <command>
~~~

- Check the output of the command above this message`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

The configuration file could not be read or does not match the schema.

## Things you can try:
- Print the effective configuration:
~~~
$ stamina config show
~~~

- Write a fresh default configuration:
~~~
$ stamina config init
~~~

## Example configuration:
~~~cue
deploy_dir: "deploy"
command: timeout: "30s"
watch: {
	debounce: "500ms"
	max_retries: 3
}
log: level: "info"
~~~`,
	}

	stateFileCorruptIssue = &Issue{
		id: StateFileCorruptId,
		mdMsg: `
# Unit tree state file is unreadable!

The file recording installed deployment units could not be parsed.

## Things you can try:
- Move the file aside; artifacts in the deploy directory are reinstalled on startup
- Disable persistence by setting an empty ` + "`state_file`",
	}

	watchLimitReachedIssue = &Issue{
		id: WatchLimitReachedId,
		mdMsg: `
# Filesystem watch limit reached!

The deploy directory can no longer be watched because the system ran out of
watch handles or file descriptors.

## Things you can try:
- Raise the inotify limit:
~~~
$ sudo sysctl fs.inotify.max_user_watches=524288
~~~

- Ignore busy subdirectories:
~~~cue
watch: ignore: ["**/cache/**"]
~~~`,
	}

	issues = map[Id]*Issue{
		artifactRejectedIssue.Id():  artifactRejectedIssue,
		deployDirNotFoundIssue.Id(): deployDirNotFoundIssue,
		commandNotFoundIssue.Id():   commandNotFoundIssue,
		dispatchFailedIssue.Id():    dispatchFailedIssue,
		configLoadFailedIssue.Id():  configLoadFailedIssue,
		stateFileCorruptIssue.Id():  stateFileCorruptIssue,
		watchLimitReachedIssue.Id(): watchLimitReachedIssue,
	}
)

// Values returns every catalog entry ordered by id.
func Values() []*Issue {
	out := make([]*Issue, 0, len(issues))
	for _, i := range issues {
		out = append(out, i)
	}
	slices.SortFunc(out, func(a, b *Issue) int { return int(a.id - b.id) })
	return out
}

// Get returns the catalog entry for id, or nil.
func Get(id Id) *Issue {
	return issues[id]
}
