// Package main provides localization for the webmshrink CLI.
package main

import (
	"github.com/ideamans/go-l10n"
)

func init() {
	// Register Japanese translations for CLI messages.
	l10n.Register("ja", l10n.LexiconMap{
		// Root command
		"Transcode MP4 video to WebM with chunked upload": "MP4動画をWebMに変換し、分割アップロード",

		// Commands
		"Transcode an MP4 file to WebM and upload it": "MP4ファイルをWebMに変換してアップロード",
		"List the resolution presets":                 "解像度プリセットを一覧表示",
		"Show version information":                    "バージョン情報を表示",
		"webmshrink version %s":                       "webmshrink バージョン %s",

		// Configuration flags
		"Input MP4 file":                          "入力MP4ファイル",
		"YAML configuration file":                 "YAML設定ファイル",
		"Resolution preset (144p, qvga, vga, hd)": "解像度プリセット（144p, qvga, vga, hd）",

		// Encoding flags
		"Output codec string (e.g., vp8, vp09.00.10.08, av01.0.04M.08)":           "出力コーデック文字列（例: vp8, vp09.00.10.08, av01.0.04M.08）",
		"Output video width":                                                      "出力動画の幅",
		"Output video height":                                                     "出力動画の高さ",
		"Target bitrate in bits per second":                                       "目標ビットレート（bps）",
		"Output frame rate":                                                       "出力フレームレート",
		"Hardware acceleration (no-preference, prefer-hardware, prefer-software)": "ハードウェアアクセラレーション（no-preference, prefer-hardware, prefer-software）",
		"Output name label (default: <height>p)":                                  "出力名のラベル（デフォルト: <高さ>p）",
		"What to do when the output format changes (restart, reject)":             "出力形式が変わったときの動作（restart, reject）",
		"Path to ffmpeg executable (falls back to FFMPEG_PATH env, then PATH)":    "ffmpeg実行ファイルのパス（未指定時は FFMPEG_PATH 環境変数、次に PATH）",

		// Upload flags
		"Upload target (file, swift)":                            "アップロード先（file, swift）",
		"Upload unit threshold in bytes":                         "アップロード単位のしきい値（バイト）",
		"Output directory for the file target":                   "file アップロード先の出力ディレクトリ",
		"Keep each upload unit as a separate part file":          "アップロード単位ごとに別のパートファイルとして保存",
		"Swift API key (overrides the config file)":              "Swift APIキー（設定ファイルを上書き）",
		"Render a preview of the encoded output":                 "エンコード結果のプレビューを描画",
		"Serve Prometheus metrics on this address (e.g., :9090)": "このアドレスでPrometheusメトリクスを公開（例: :9090）",
		"Write a Markdown summary to this path (- for stdout)":   "Markdownサマリーをこのパスに書き込み（- で標準出力）",

		// Debug flags
		"Enable debug output":        "デバッグ出力を有効化",
		"Directory for debug output": "デバッグ出力のディレクトリ",

		// Logging flags
		"Log level (debug, info, warn, error)": "ログレベル（debug, info, warn, error）",
		"Suppress all log output":              "全てのログ出力を抑制",

		// Summary content
		"Transcode Summary":     "変換サマリー",
		"Generated":             "生成日時",
		"Results":               "実行結果",
		"Settings":              "設定",
		"Pipeline Details":      "パイプライン詳細",
		"Item":                  "項目",
		"Value":                 "値",
		"Status":                "状態",
		"Completed":             "完了",
		"Stopped early":         "途中で停止",
		"Input":                 "入力",
		"Input Size":            "入力サイズ",
		"Output":                "出力",
		"Location":              "保存先",
		"Output Size":           "出力サイズ",
		"Upload Units":          "アップロード単位数",
		"Elapsed":               "所要時間",
		"Preset":                "プリセット",
		"Codec":                 "コーデック",
		"Resolution":            "解像度",
		"Bitrate":               "ビットレート",
		"Framerate":             "フレームレート",
		"Hardware Acceleration": "ハードウェアアクセラレーション",
		"Remux Policy":          "リマックス方針",
		"Upload Target":         "アップロード先",
		"Upload Threshold":      "アップロードしきい値",
		"Samples":               "サンプル数",
		"Frames Decoded":        "デコードフレーム数",
		"Frames Encoded":        "エンコードフレーム数",
		"Chunks":                "チャンク数",
		"Frames Rendered":       "描画フレーム数",
		"Frames Dropped":        "描画スキップ数",
		"Segments":              "セグメント数",
		"Containers":            "コンテナ数",
		"Generated by":          "生成:",
	})
}
