package domain

import "confcrm/internal/util"

type RenderedMessage struct {
	Channel ChannelType
	Subject string
	Body    string
}

// RenderEntry substitutes values into the entry's subject and body. Any
// placeholder without a value, in either part, is a RenderError.
func RenderEntry(e SequenceEntry, values map[string]string) (RenderedMessage, error) {
	subject, missSubject := util.RenderTemplate(e.Subject, values)
	body, missBody := util.RenderTemplate(e.Body, values)
	if missing := mergeSorted(missSubject, missBody); len(missing) > 0 {
		return RenderedMessage{}, &RenderError{Missing: missing}
	}
	return RenderedMessage{Channel: e.ChannelType, Subject: subject, Body: body}, nil
}

// MergeValues layers recipient overrides on top of contact values.
func MergeValues(contact, overrides map[string]string) map[string]string {
	out := make(map[string]string, len(contact)+len(overrides))
	for k, v := range contact {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

func mergeSorted(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case j >= len(b) || (i < len(a) && a[i] < b[j]):
			out = append(out, a[i])
			i++
		case i >= len(a) || b[j] < a[i]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}
