/*
 * internal/resources/helm.go
 *
 * Helm release decoration for Secrets: Secrets of type helm.sh/release.v1
 * store a release record under data["release"] as base64(gzip(json)), the
 * storage format Helm v3's secrets driver writes and reads
 * (helm.sh/helm/v3/pkg/storage/driver.encodeRelease/decodeRelease). This
 * decodes the same way against helm.sh/helm/v3/pkg/release.Release. Decode
 * failures degrade to an absent field, never an error, preserving the
 * projector's total-function invariant.
 */

package resources

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"io"

	"helm.sh/helm/v3/pkg/release"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

const helmReleaseSecretType = "helm.sh/release.v1"

// HelmReleaseSummary is the decoded subset of a Helm release exposed on a
// Secret's projected record.
type HelmReleaseSummary struct {
	Chart   string `json:"chart"`
	Version int    `json:"version"`
	Status  string `json:"status"`
}

// decodeHelmRelease returns nil when obj is not a Helm v3 release Secret or
// the embedded release payload cannot be decoded.
func decodeHelmRelease(obj *unstructured.Unstructured) *HelmReleaseSummary {
	if obj == nil || str(obj, "type") != helmReleaseSecretType {
		return nil
	}
	data, found, err := unstructured.NestedMap(obj.Object, "data")
	if err != nil || !found {
		return nil
	}
	encoded, _ := data["release"].(string)
	if encoded == "" {
		return nil
	}

	rel, err := decodeReleasePayload(encoded)
	if err != nil || rel == nil {
		return nil
	}

	summary := &HelmReleaseSummary{}
	if rel.Info != nil {
		summary.Status = rel.Info.Status.String()
	}
	if rel.Chart != nil && rel.Chart.Metadata != nil {
		summary.Chart = rel.Chart.Metadata.Name + "-" + rel.Chart.Metadata.Version
	}
	summary.Version = rel.Version
	return summary
}

// decodeReleasePayload mirrors Helm's secrets storage driver: base64
// decode, gunzip, then JSON-unmarshal into release.Release. A Secret read
// through the raw API carries the server's own base64 serialization of
// data values on top of Helm's encoding, so real payloads are
// base64(base64(gzip(json))); the outer layer is peeled first, with a
// gzip-magic sniff so an already-unwrapped value (a typed client hands
// data over as decoded bytes) still parses.
func decodeReleasePayload(encoded string) (*release.Release, error) {
	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	if !isGzip(payload) {
		payload, err = base64.StdEncoding.DecodeString(string(payload))
		if err != nil {
			return nil, err
		}
	}

	reader, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	var rel release.Release
	if err := json.Unmarshal(raw, &rel); err != nil {
		return nil, err
	}
	return &rel, nil
}

func isGzip(b []byte) bool {
	return len(b) > 2 && b[0] == 0x1f && b[1] == 0x8b
}
