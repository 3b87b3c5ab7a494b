package log

import "log/slog"

func InstanceID[T ~string](id T) slog.Attr {
	return slog.String("instance_id", string(id))
}

func Bookmark(name string) slog.Attr {
	return slog.String("bookmark", name)
}

func Method(method string) slog.Attr {
	return slog.String("method", method)
}

func Template(tmpl string) slog.Attr {
	return slog.String("template", tmpl)
}

func Status[T ~string](status T) slog.Attr {
	return slog.String("status", string(status))
}

func Error(err error) slog.Attr {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return slog.String("error", msg)
}
