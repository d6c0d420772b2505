package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	docsPage      int
	templateTitle string
	templateBody  string
)

// docsCmd 查询和删除文档，文档的上传与处理由后端负责
var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Browse and delete uploaded documents",
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List uploaded documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		page, err := newClient().ListDocuments(cmd.Context(), docsPage)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if len(page.Documents) == 0 {
			fmt.Fprintln(w, "No documents.")
			return nil
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tFILENAME\tSTATUS")
		for _, d := range page.Documents {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", d.ID, d.FileName, d.Status)
		}
		_ = tw.Flush()
		fmt.Fprintf(w, "page %d, %d documents in total\n", page.Page, page.Total)
		return nil
	},
}

var docsStatusCmd = &cobra.Command{
	Use:   "status <document-id>",
	Short: "Show whether a document is ready to be queried",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := newClient().DocumentStatus(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (ready=%t)\n", st.DocumentID, st.Status, st.Ready)
		return nil
	},
}

var docsDeleteCmd = &cobra.Command{
	Use:   "delete <document-id>",
	Short: "Delete a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().DeleteDocument(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted document %s\n", args[0])
		return nil
	},
}

// templatesCmd 管理请求/响应模板
var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Manage request/response templates",
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		tpls, err := newClient().ListTemplates(cmd.Context())
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if len(tpls) == 0 {
			fmt.Fprintln(w, "No templates.")
			return nil
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTITLE\tBODY")
		for _, t := range tpls {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", t.ID, t.Title, abbreviate(t.Body, 48))
		}
		return tw.Flush()
	},
}

var templatesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a template",
	RunE: func(cmd *cobra.Command, args []string) error {
		tpl, err := newClient().CreateTemplate(cmd.Context(), templateTitle, templateBody)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created template %s (%s)\n", tpl.ID, tpl.Title)
		return nil
	},
}

var templatesDeleteCmd = &cobra.Command{
	Use:   "delete <template-id>",
	Short: "Delete a template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().DeleteTemplate(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted template %s\n", args[0])
		return nil
	},
}

func init() {
	docsListCmd.Flags().IntVar(&docsPage, "page", 1, "page number, starting at 1")
	templatesCreateCmd.Flags().StringVar(&templateTitle, "title", "", "template title")
	templatesCreateCmd.Flags().StringVar(&templateBody, "body", "", "template body")
	_ = templatesCreateCmd.MarkFlagRequired("title")

	docsCmd.AddCommand(docsListCmd, docsStatusCmd, docsDeleteCmd)
	templatesCmd.AddCommand(templatesListCmd, templatesCreateCmd, templatesDeleteCmd)
}

// abbreviate 把多行文本压成一行并截断到 n 个字符
func abbreviate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
