package obs

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/ericfisherdev/qabot/internal/domain/model"
)

type directoryXML struct {
	Entries []struct {
		Name string `xml:"name,attr"`
	} `xml:"entry"`
}

func (d directoryXML) names() []string {
	out := make([]string, 0, len(d.Entries))
	for _, e := range d.Entries {
		out = append(out, e.Name)
	}
	return out
}

type binaryListXML struct {
	Binaries []struct {
		Filename string `xml:"filename,attr"`
	} `xml:"binary"`
}

type linkXML struct {
	CICount string `xml:"cicount,attr"`
}

// IncidentArtifacts lists the binaries of pkg in every architecture the
// patchinfo was built for, since patchinfo builds land on an arbitrary one.
func (c *Client) IncidentArtifacts(ctx context.Context, sourceProject, repository, pkg string) (model.Artifacts, error) {
	var archs directoryXML
	if err := c.getXML(ctx, c.makeURL(nil, "build", sourceProject, repository), &archs); err != nil {
		return model.Artifacts{}, fmt.Errorf("listing architectures of %s/%s: %w", sourceProject, repository, err)
	}

	var art model.Artifacts
	for _, arch := range archs.names() {
		var list binaryListXML
		u := c.makeURL(url.Values{"nosource": {"1"}}, "build", sourceProject, repository, arch, pkg)
		if err := c.getXML(ctx, u, &list); err != nil {
			return model.Artifacts{}, fmt.Errorf("listing binaries of %s/%s/%s: %w", sourceProject, arch, pkg, err)
		}

		for _, b := range list.Binaries {
			if b.Filename != "updateinfo.xml" {
				art.Binaries = append(art.Binaries, b.Filename)
				continue
			}
			id, err := c.patchID(ctx, sourceProject, repository, arch, pkg)
			if err != nil {
				return model.Artifacts{}, err
			}
			art.PatchID = id
		}
	}

	slog.Debug("obs incident artifacts", "project", sourceProject, "binaries", len(art.Binaries), "patch_id", art.PatchID)
	return art, nil
}

func (c *Client) patchID(ctx context.Context, project, repository, arch, pkg string) (string, error) {
	data, err := c.do(ctx, http.MethodGet, c.makeURL(nil, "build", project, repository, arch, pkg, "updateinfo.xml"), nil)
	if err != nil {
		return "", fmt.Errorf("reading updateinfo of %s: %w", project, err)
	}
	return firstElementText(data, "id")
}

// firstElementText returns the text of the first element named name at any
// depth. updateinfo.xml comes with either <updates> or <update> as root.
func firstElementText(data []byte, name string) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("decoding updateinfo: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != name {
			continue
		}
		var text string
		if err := dec.DecodeElement(&text, &start); err != nil {
			return "", fmt.Errorf("decoding updateinfo %s: %w", name, err)
		}
		return strings.TrimSpace(text), nil
	}
}

// ListPackages returns the package names of project.
func (c *Client) ListPackages(ctx context.Context, project string) ([]string, error) {
	var dir directoryXML
	if err := c.getXML(ctx, c.makeURL(nil, "source", project), &dir); err != nil {
		return nil, fmt.Errorf("listing packages of %s: %w", project, err)
	}
	return dir.names(), nil
}

// LinkHasCICount reports whether project/pkg links with a cicount
// attribute. A package without a link is not a copy-in.
func (c *Client) LinkHasCICount(ctx context.Context, project, pkg string) (bool, error) {
	var link linkXML
	err := c.getXML(ctx, c.makeURL(nil, "source", project, pkg, "_link"), &link)
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading link of %s/%s: %w", project, pkg, err)
	}
	return link.CICount != "", nil
}
